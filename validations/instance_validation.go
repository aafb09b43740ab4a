package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	domainInstance "github.com/wafleet/wafleet/domains/instance"
	pkgError "github.com/wafleet/wafleet/pkg/error"
)

func ValidateRegisterBot(ctx context.Context, request domainInstance.CreateBotRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&request.PhoneNumber, validation.Required),
		validation.Field(&request.ExpirationMonths, validation.Min(0), validation.Max(36)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateApproveBot(ctx context.Context, request domainInstance.ApproveBotRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.ExpirationMonths, validation.Required, validation.Min(1), validation.Max(36)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateBatch(ctx context.Context, request domainInstance.BatchRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Action, validation.Required, validation.In("start", "stop", "approve", "revoke", "delete", "migrate")),
		validation.Field(&request.Items, validation.Required, validation.Length(1, 100)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidatePairingPhone(ctx context.Context, phone string) error {
	err := validation.Validate(phone, validation.Required, is.Digit, validation.Length(10, 15))
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}
