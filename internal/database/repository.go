package database

type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	// CreateMessage appends a message to the durable record and returns it
	// with the store-assigned id and timestamp populated.
	CreateMessage(room string, senderId int, content string) (Message, error)
	// GetMessages returns the most recent limit messages for room, ordered
	// ascending by (created_at, id).
	GetMessages(room string, limit int) ([]Message, error)
}
