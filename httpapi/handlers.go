package httpapi

import (
	"net/http"
	"strconv"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/httperr"
	"github.com/MrEthical07/authgate/middleware"
	"github.com/gorilla/mux"
)

const messageTwoFactorUpdated = "2FA settings updated"

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := httperr.Write(w, r, err); status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err.Error(),
		)
	}
}

// writeToken answers with the token in both the body and the Authorization
// header.
func writeToken(w http.ResponseWriter, status int, res authgate.LoginResult) {
	if res.Token != "" {
		w.Header().Set("Authorization", "Bearer "+res.Token)
	}
	httperr.WriteJSON(w, status, tokenResponse{Message: res.Message, Token: res.Token})
}

func loginStatus(res authgate.LoginResult) int {
	if res.TwoFactorPending {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decodeJSON(w, r, h.maxBody, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Login(r.Context(), authgate.LoginRequest{
		Email:        body.Email,
		Password:     body.Password,
		CaptchaToken: body.RecaptchaToken,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeToken(w, loginStatus(res), res)
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := decodeJSON(w, r, h.maxBody, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Register(r.Context(), authgate.RegisterRequest{
		FullName:        body.FullName,
		Email:           body.Email,
		Password:        body.Password,
		ConfirmPassword: body.ConfirmPassword,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeToken(w, http.StatusOK, res)
}

func (h *handlers) validateTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body twoFactorRequest
	if err := decodeJSON(w, r, h.maxBody, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.CompleteTwoFactor(r.Context(), body.Email, body.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeToken(w, http.StatusOK, res)
}

func (h *handlers) toggleTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		h.fail(w, r, &authgate.ValidationError{Fields: []authgate.FieldError{
			{Field: "enabled", Message: "must be true or false"},
		}})
		return
	}
	if err := h.svc.SetTwoFactorEnabled(r.Context(), p.Email, enabled); err != nil {
		h.fail(w, r, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, messageResponse{Message: messageTwoFactorUpdated})
}

func (h *handlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if err := decodeJSON(w, r, h.maxBody, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), body.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, messageResponse{Message: authgate.MessageForgotPassword})
}

func (h *handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if err := decodeJSON(w, r, h.maxBody, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	err := h.svc.ResetPassword(r.Context(), authgate.ResetPasswordRequest{
		Code:           body.Code,
		NewPassword:    body.NewPassword,
		RepeatPassword: body.RepeatPassword,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httperr.WriteJSON(w, http.StatusOK, messageResponse{Message: authgate.MessagePasswordReset})
}

func (h *handlers) details(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	httperr.WriteJSON(w, http.StatusOK, h.svc.Details(p.Claims))
}

func (h *handlers) externalLogin(w http.ResponseWriter, r *http.Request) {
	var body externalLoginRequest
	if err := decodeJSON(w, r, h.maxBody, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.LoginExternal(r.Context(), mux.Vars(r)["provider"], body.Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeToken(w, loginStatus(res), res)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed", "error", err.Error())
			httperr.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
	}
	httperr.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
