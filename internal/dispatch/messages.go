package dispatch

// User-facing messages. Clients of earlier releases match on these strings,
// so they must not change.
const (
	msgUnknownCommand      = "You have entered an unknown command.\n"
	msgDepositNotNumber    = "Deposit cancelled. The deposit amount must be a valid number.\n"
	msgDepositNotPositive  = "Deposit cancelled. The deposit amount must be a positive number.\n"
	msgPurchaseNotNumber   = "Purchase cancelled. The purchase amount must be a valid number.\n"
	msgPurchaseNotPositive = "Purchase cancelled. The purchase amount must be a positive number.\n"
	msgDisconnected        = "You have disconnected from the server.\n"
	msgSaveFailed          = "An error occurred while saving users.\n"
	msgSaved               = "Users successfully saved.\n"
	msgDeposited           = "Deposit successful. Current balance: $%s.\n"

	msgUsernameTaken     = "This username is already taken, please enter a valid one.\n"
	msgUsernameIllegal   = "This username contains illegal characters, please enter a valid one.\n"
	msgBadCredentials    = "The username or password you have entered is incorrect.\n"
	msgAlreadyLoggedOut  = "This account has already logged out completely.\n"
	msgLoggedOut         = "You have successfully logged out.\n"
	msgRegistered        = "User %s has successfully been registered.\n"
	msgLoggedIn          = "You have successfully logged in. Welcome back, %s.\n"
	msgInsufficientFunds = "You are attempting to invest more money than you currently own. Please deposit first.\n"
	msgNotInvested       = "You have not invested in the currency you are trying to sell. Please purchase first.\n"
	msgInvalidPrice      = "The price of the cryptocurrency must not be a negative number.\n"
	msgPurchased         = "Operation successful. You have purchased %s %s for $%s.\n"
	msgSold              = "Operation successful. You have sold %s %s for $%s.\n"
	msgListingHeader     = "List of offerings: \n"
	msgListingLine       = "%2d) Offering code: %4s, Current price: $%s\n"
	msgSourceUnavailable = "Could not get list of crypto currencies at this time. Please try again later.\n"
	msgCurrencyNotFound  = "The currency you have entered could not be found. Please enter again.\n"
	msgHelpUnknownTopic  = "You are trying to look up an unknown command.\n"
)

// MessageTryAgainLater is sent when a quote fetch cannot be scheduled.
const MessageTryAgainLater = msgSourceUnavailable

// MessageUnknownCommand is sent for requests that cannot be decoded.
const MessageUnknownCommand = msgUnknownCommand
