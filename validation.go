package authgate

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	fullNameMinRunes = 3
	fullNameMaxRunes = 100
	passwordMinRunes = 8
	passwordMaxRunes = 30
)

var fullNamePattern = regexp.MustCompile(`^[a-zA-ZÀ-ÿ\s]+$`)

func validateRegistration(req RegisterRequest) error {
	verr := &ValidationError{}

	name := strings.TrimSpace(req.FullName)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		verr.add("fullname", "must not be blank")
	case n < fullNameMinRunes || n > fullNameMaxRunes:
		verr.add("fullname", "must be between 3 and 100 characters")
	case !fullNamePattern.MatchString(name):
		verr.add("fullname", "may contain only letters and spaces")
	}

	checkEmail(verr, "email", req.Email)
	checkPasswordPolicy(verr, "password", req.Password)

	return verr.orNil()
}

func validateLogin(req LoginRequest) error {
	verr := &ValidationError{}
	checkEmail(verr, "email", req.Email)
	if req.Password == "" {
		verr.add("password", "must not be blank")
	}
	if strings.TrimSpace(req.CaptchaToken) == "" {
		verr.add("recaptchaToken", "must not be blank")
	}
	return verr.orNil()
}

func validateResetPassword(req ResetPasswordRequest) error {
	verr := &ValidationError{}
	if strings.TrimSpace(req.Code) == "" {
		verr.add("code", "must not be blank")
	}
	checkPasswordPolicy(verr, "newPassword", req.NewPassword)
	return verr.orNil()
}

func checkEmail(verr *ValidationError, field, email string) {
	email = strings.TrimSpace(email)
	if email == "" {
		verr.add(field, "must not be blank")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		verr.add(field, "must be a valid email address")
	}
}

func checkPasswordPolicy(verr *ValidationError, field, password string) {
	if password == "" {
		verr.add(field, "must not be blank")
		return
	}
	if n := utf8.RuneCountInString(password); n < passwordMinRunes || n > passwordMaxRunes {
		verr.add(field, "must be between 8 and 30 characters")
		return
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	if !lower || !upper || !digit || !symbol {
		verr.add(field, "must contain upper and lower case letters, a digit, and a symbol")
	}
}
