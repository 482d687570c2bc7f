package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"kkt_deadline_bot/internal/app"
	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/infra/logger"
)

const (
	adminID    int64 = 1
	managerID  int64 = 2
	strangerID int64 = 3
)

type mockStaffService struct {
	mock.Mock
}

func (m *mockStaffService) IsAdmin(id int64) bool { return id == adminID }

func (m *mockStaffService) IsStaff(id int64) bool { return id == adminID || id == managerID }

func (m *mockStaffService) Summary(ctx context.Context, performingID int64) (string, error) {
	args := m.Called(ctx, performingID)
	return args.String(0), args.Error(1)
}

func (m *mockStaffService) ClientDeadlines(ctx context.Context, performingID, clientID int64) (string, error) {
	args := m.Called(ctx, performingID, clientID)
	return args.String(0), args.Error(1)
}

func (m *mockStaffService) RunCheck(ctx context.Context, performingID int64) (*app.TickReport, error) {
	args := m.Called(ctx, performingID)
	report, _ := args.Get(0).(*app.TickReport)
	return report, args.Error(1)
}

func (m *mockStaffService) DeleteType(ctx context.Context, performingID, typeID int64) (*app.TypeDeletion, error) {
	args := m.Called(ctx, performingID, typeID)
	res, _ := args.Get(0).(*app.TypeDeletion)
	return res, args.Error(1)
}

func (m *mockStaffService) UnprotectType(ctx context.Context, performingID, typeID int64) (*deadline.Type, error) {
	args := m.Called(ctx, performingID, typeID)
	t, _ := args.Get(0).(*deadline.Type)
	return t, args.Error(1)
}

type CommandsSuite struct {
	suite.Suite
	service *mockStaffService
	cmds    *Commands
	ctx     context.Context
}

func TestCommandsSuite(t *testing.T) {
	suite.Run(t, new(CommandsSuite))
}

func (s *CommandsSuite) SetupTest() {
	s.service = &mockStaffService{}
	s.cmds = NewCommands(s.service, logger.Discard())
	s.ctx = context.Background()
}

func (s *CommandsSuite) TestStart() {
	s.Contains(s.cmds.Start(adminID, "Анна"), "Администратор Анна")
	s.Contains(s.cmds.Start(managerID, "<Иван>"), "&lt;Иван&gt;")
	s.Contains(s.cmds.Start(strangerID, "Пётр"), "<code>3</code>")
}

func (s *CommandsSuite) TestHelp() {
	s.Run("admin sees admin commands", func() {
		s.Contains(s.cmds.Help(adminID), "/delete_type")
	})
	s.Run("manager sees staff commands only", func() {
		text := s.cmds.Help(managerID)
		s.Contains(text, "/summary")
		s.NotContains(text, "/check")
	})
	s.Run("stranger has no commands", func() {
		s.NotContains(s.cmds.Help(strangerID), "/summary")
	})
}

func (s *CommandsSuite) TestDeadlines() {
	s.Run("bad arguments", func() {
		s.Contains(s.cmds.Deadlines(s.ctx, managerID, nil), "Неверный формат")
		s.Contains(s.cmds.Deadlines(s.ctx, managerID, []string{"abc"}), "положительным числом")
		s.Contains(s.cmds.Deadlines(s.ctx, managerID, []string{"-5"}), "положительным числом")
	})

	s.Run("renders list", func() {
		s.service.On("ClientDeadlines", mock.Anything, managerID, int64(7)).Return("📋 list", nil).Once()
		s.Equal("📋 list", s.cmds.Deadlines(s.ctx, managerID, []string{"7"}))
	})

	s.Run("unknown client", func() {
		s.service.On("ClientDeadlines", mock.Anything, managerID, int64(8)).
			Return("", apperr.NotFound("client %d", 8)).Once()
		s.Contains(s.cmds.Deadlines(s.ctx, managerID, []string{"8"}), "Не найдено")
	})

	s.Run("stranger", func() {
		s.service.On("ClientDeadlines", mock.Anything, strangerID, int64(7)).
			Return("", app.ErrStaffNotAuthorized).Once()
		s.Equal(msgUnauthorized, s.cmds.Deadlines(s.ctx, strangerID, []string{"7"}))
	})
}

func (s *CommandsSuite) TestCheck() {
	s.Run("renders report", func() {
		s.service.On("RunCheck", mock.Anything, adminID).Return(&app.TickReport{Sent: 3}, nil).Once()
		s.Contains(s.cmds.Check(s.ctx, adminID), "Отправлено уведомлений: 3")
	})

	s.Run("partial run still reports", func() {
		s.service.On("RunCheck", mock.Anything, adminID).
			Return(&app.TickReport{Sent: 1, Failed: 1}, errors.New("record")).Once()
		s.Contains(s.cmds.Check(s.ctx, adminID), "Ошибок доставки: 1")
	})

	s.Run("already running", func() {
		s.service.On("RunCheck", mock.Anything, adminID).Return(nil, app.ErrTickInProgress).Once()
		s.Contains(s.cmds.Check(s.ctx, adminID), "уже выполняется")
	})

	s.Run("not an admin", func() {
		s.service.On("RunCheck", mock.Anything, managerID).Return(nil, app.ErrAdminNotAuthorized).Once()
		s.Equal(msgUnauthorized, s.cmds.Check(s.ctx, managerID))
	})
}

func (s *CommandsSuite) TestDeleteType() {
	s.Run("manager refused before parsing", func() {
		s.Equal(msgUnauthorized, s.cmds.DeleteType(s.ctx, managerID, []string{"1"}))
	})

	s.Run("protected type", func() {
		s.service.On("DeleteType", mock.Anything, adminID, int64(1)).
			Return(nil, apperr.PolicyViolation("type %d is protected", 1)).Once()
		s.Contains(s.cmds.DeleteType(s.ctx, adminID, []string{"1"}), "Операция запрещена")
	})

	s.Run("deleted", func() {
		s.service.On("DeleteType", mock.Anything, adminID, int64(5)).
			Return(&app.TypeDeletion{TypeID: 5, TypeName: "Поверка", OrphanedDeadlines: 2}, nil).Once()
		text := s.cmds.DeleteType(s.ctx, adminID, []string{"5"})
		s.Contains(text, "«Поверка»")
		s.Contains(text, "Дедлайнов без типа: 2")
	})
}

func (s *CommandsSuite) TestUnprotectType() {
	s.service.On("UnprotectType", mock.Anything, adminID, int64(1)).
		Return(&deadline.Type{ID: 1, Name: "Замена ФН"}, nil).Once()
	s.Contains(s.cmds.UnprotectType(s.ctx, adminID, []string{"1"}), "Защита с типа «Замена ФН»")
	s.Contains(s.cmds.UnprotectType(s.ctx, adminID, []string{}), "Неверный формат")
	s.service.AssertExpectations(s.T())
}
