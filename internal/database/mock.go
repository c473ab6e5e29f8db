package database

import (
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) CreateMessage(room string, senderId int, content string) (Message, error) {
	args := m.Called(room, senderId, content)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockChatRepository) GetMessages(room string, limit int) ([]Message, error) {
	args := m.Called(room, limit)
	return args.Get(0).([]Message), args.Error(1)
}
