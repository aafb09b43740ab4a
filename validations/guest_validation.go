package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainGuest "github.com/wafleet/wafleet/domains/guest"
	pkgError "github.com/wafleet/wafleet/pkg/error"
)

func ValidateSendOTP(ctx context.Context, request domainGuest.SendOTPRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.PhoneNumber, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateVerifyOTP(ctx context.Context, request domainGuest.VerifyOTPRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.PhoneNumber, validation.Required),
		validation.Field(&request.OTP, validation.Required, validation.Length(6, 6)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateSessionProof(ctx context.Context, request domainGuest.SessionProofRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.SessionID, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
