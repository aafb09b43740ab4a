package usecase

import (
	"context"
	"strings"

	domainCommand "github.com/wafleet/wafleet/domains/command"
	pkgError "github.com/wafleet/wafleet/pkg/error"
)

type commandService struct {
	commands domainCommand.ICommandRepository
}

func NewCommandUsecase(commands domainCommand.ICommandRepository) domainCommand.ICommandUsecase {
	return &commandService{commands: commands}
}

func (s *commandService) Create(ctx context.Context, req domainCommand.CreateCommandRequest) (*domainCommand.Command, error) {
	name := strings.TrimSpace(strings.ToLower(req.Name))
	if name == "" {
		return nil, pkgError.ValidationError("command name is required")
	}
	if existing, _ := s.commands.GetByName(ctx, name); existing != nil {
		return nil, pkgError.ConflictError{Message: "a command with this name already exists"}
	}

	cmd := &domainCommand.Command{
		Name:        name,
		Description: req.Description,
		Response:    req.Response,
		Category:    req.Category,
		IsActive:    req.IsActive,
		IsCustom:    true,
	}
	if err := s.commands.Create(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (s *commandService) List(ctx context.Context) ([]domainCommand.Command, error) {
	return s.commands.List(ctx)
}

func (s *commandService) Update(ctx context.Context, id uint, req domainCommand.CreateCommandRequest) (*domainCommand.Command, error) {
	cmds, err := s.commands.List(ctx)
	if err != nil {
		return nil, err
	}
	var cmd *domainCommand.Command
	for i := range cmds {
		if cmds[i].ID == id {
			cmd = &cmds[i]
			break
		}
	}
	if cmd == nil {
		return nil, pkgError.NotFoundError("command not found")
	}

	if req.Name != "" {
		cmd.Name = strings.TrimSpace(strings.ToLower(req.Name))
	}
	cmd.Description = req.Description
	cmd.Response = req.Response
	cmd.Category = req.Category
	cmd.IsActive = req.IsActive

	if err := s.commands.Update(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (s *commandService) Delete(ctx context.Context, id uint) error {
	return s.commands.Delete(ctx, id)
}
