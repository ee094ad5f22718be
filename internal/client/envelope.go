package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "carwash/internal/errors"
	"carwash/pkg/contracts/domain"
)

var envelopeValidator = newEnvelopeValidator()

func newEnvelopeValidator() *validator.Validate {
	v := validator.New()
	// report JSON names, as they appear in the .sig file
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LoadSignatureFile reads a .sig file and checks that it carries every envelope
// field. It returns the file contents unchanged, since the server verifies those
// exact bytes.
func LoadSignatureFile(path string) (string, *domain.SignatureEnvelope, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, apperrors.NewNotFoundError("signature file").WithContext("path", path)
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to read signature file: %w", err)
	}
	env, err := ParseSignature(data)
	if err != nil {
		return "", nil, err
	}
	return string(data), env, nil
}

// ParseSignature decodes and validates a signature envelope
func ParseSignature(data []byte) (*domain.SignatureEnvelope, error) {
	var env domain.SignatureEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("signature file is not valid JSON: %w", err)
	}

	if err := envelopeValidator.Struct(env); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("failed to validate signature file: %w", err)
		}
		problems := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			switch fe.Tag() {
			case "required":
				problems = append(problems, fe.Field()+" is missing")
			case "base64":
				problems = append(problems, fe.Field()+" is not base64")
			default:
				problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
		}
		return nil, apperrors.NewAppValidationError("invalid signature file: " + strings.Join(problems, ", "))
	}
	return &env, nil
}
