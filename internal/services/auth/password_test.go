// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth_test

import (
	"testing"

	"codeberg.org/livesales/authcore/internal/services/auth"
	"github.com/stretchr/testify/assert"
)

func TestPasswordValidator(t *testing.T) {
	v := auth.DefaultPasswordValidator()

	tests := []struct {
		name     string
		password string
		attrs    []string
		want     []string
	}{
		{"valid", "Correct-Horse-9", []string{"alice@example.com"}, nil},
		{"too short", "Ab1", nil, []string{auth.CodeMinLength}},
		{"no upper", "correct-horse-9", nil, []string{auth.CodeUppercase}},
		{"no lower", "CORRECT-HORSE-9", nil, []string{auth.CodeLowercase}},
		{"no digit", "Correct-Horse", nil, []string{auth.CodeDigit}},
		{"numeric", "1234567890", nil, []string{auth.CodeUppercase, auth.CodeLowercase, auth.CodeNumeric, auth.CodeCommon}},
		{"common", "Password123", nil, []string{auth.CodeCommon}},
		{"similar to email", "Alice2025x", []string{"alice@example.com"}, []string{auth.CodeSimilar}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.password, tt.attrs...)

			if tt.want == nil {
				assert.True(t, result.Valid)
				assert.NoError(t, result.Err())
				return
			}
			assert.False(t, result.Valid)
			var codes []string
			for _, e := range result.Errors {
				codes = append(codes, e.Code)
			}
			assert.Equal(t, tt.want, codes)
		})
	}
}

func TestPasswordValidationError(t *testing.T) {
	err := auth.DefaultPasswordValidator().Validate("short").Err()

	var verr *auth.PasswordValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "Password must be at least 8 characters long.", verr.Error())
	assert.Equal(t, 8, verr.Errors[0].Data["Min"])
}
