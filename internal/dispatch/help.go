package dispatch

var helpTopics = map[string]string{
	"register": `register [username] [password] - Creates a new account and logs you in with it.

Arguments:
1) username - Letters, digits, "-", "_" and "." only. The request is rejected if the name is already in use.
2) password - The password for the new account.
`,
	"login": `login [username] [password] - Logs you into an existing account. The same account may be logged in
from several connections at once.

Arguments:
1) username - The account name.
2) password - The account password.
`,
	"deposit-money": `deposit-money [amount_in_USD] - Adds USD to your balance.

Arguments:
1) amount_in_USD - A positive number. Anything else cancels the deposit.
`,
	"list-offerings": `list-offerings - Shows the available cryptocurrencies, most expensive first. Prices come from
the quote provider and are cached for up to 30 minutes.
`,
	"buy": `buy [offering_code] [amount_to_pay] - Spends USD from your balance on a cryptocurrency at its current price.

Arguments:
1) offering_code - The code shown by "list-offerings", for example BTC. Case does not matter.
2) amount_to_pay - A positive number of USD, no more than your balance.
`,
	"sell": `sell [offering_code] - Sells your whole holding of a cryptocurrency at its current price and adds the
proceeds to your balance.

Arguments:
1) offering_code - The code of a currency you currently hold.
`,
	"get-wallet-summary": `get-wallet-summary - Shows your balance and, for each holding, the amount held and the USD
invested in it.
`,
	"get-wallet-overall-summary": `get-wallet-overall-summary - Shows the wallet summary plus what each holding would sell for
right now and the gain or loss against what you paid. Each held currency needs a current price,
so running "list-offerings" first saves quote requests.
`,
	"logout": `logout - Logs you out. The connection stays open as a guest.
`,
	"help": `help [command_name] - Describes a command and its arguments.

Arguments:
1) command_name - The command to describe.
`,
	"quit": `quit - Closes your connection. A logged in account is logged out first.
`,
	"save-users": `save-users - Writes every account to the users file. Operators only.
`,
}

// Help returns the help text for topic.
func Help(topic string) (string, bool) {
	text, ok := helpTopics[topic]
	return text, ok
}
