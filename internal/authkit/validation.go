package authkit

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const (
	passwordSpecialCharacters = "@$!%*?&"

	messageNameRequired      = "Name is required"
	messageInvalidEmail      = "Invalid email address"
	messagePasswordTooShort  = "Password must be at least 8 characters long"
	messagePasswordTooSimple = "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"
	messageInvalidJSON       = "Invalid JSON body"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

var fieldMessages = map[string]string{
	"Name":     messageNameRequired,
	"Email":    messageInvalidEmail,
	"Password": messagePasswordTooShort,
}

// bindJSON decodes and validates the body, mapping failures to validation errors.
func bindJSON(contextGin *gin.Context, target any) error {
	if err := contextGin.ShouldBindJSON(target); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			message, ok := fieldMessages[validationErrors[0].Field()]
			if !ok {
				message = messageInvalidJSON
			}
			return newAuthError(KindValidation, message, err)
		}
		return newAuthError(KindValidation, messageInvalidJSON, err)
	}
	return nil
}

// isComplexPassword requires a lowercase letter, an uppercase letter, a digit, and a
// special character from passwordSpecialCharacters; nothing else may appear.
func isComplexPassword(password string) bool {
	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, character := range password {
		switch {
		case character >= 'a' && character <= 'z':
			hasLower = true
		case character >= 'A' && character <= 'Z':
			hasUpper = true
		case character >= '0' && character <= '9':
			hasDigit = true
		case strings.ContainsRune(passwordSpecialCharacters, character):
			hasSpecial = true
		default:
			return false
		}
	}
	return len(password) >= 8 && hasLower && hasUpper && hasDigit && hasSpecial
}
