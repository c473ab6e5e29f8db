package database

import "time"

type User struct {
	Id           int
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

type Message struct {
	Id          int
	Room        string
	SenderId    int
	SenderName  string
	SenderEmail string
	Content     string
	CreatedAt   time.Time
}

type CreateAccountParams struct {
	Email        string
	DisplayName  string
	PasswordHash string
}
