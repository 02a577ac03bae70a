package http

import (
	"net/http"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
)

// AccountHandler forwards the unauthenticated account flows.
type AccountHandler struct {
	Client *authsdk.SDKClient
}

// EmailRequest carries a single address.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// VerifyEmailRequest carries the key from the verification link.
type VerifyEmailRequest struct {
	Key string `json:"key" validate:"required,max=512"`
}

// PasswordConfirmRequest is the body of POST /v1/account/password/confirm.
type PasswordConfirmRequest struct {
	UID          string `json:"uid" validate:"required,max=128"`
	Token        string `json:"token" validate:"required,max=512"`
	NewPassword1 string `json:"newPassword1" validate:"required,max=1024"`
	NewPassword2 string `json:"newPassword2" validate:"required,max=1024"`
}

func accepted(w http.ResponseWriter, status string) {
	httpx.WriteJSON(w, http.StatusAccepted, StatusResponse{Status: status})
}

// ResendVerification godoc
//
//	@Summary	Resend the verification email
//	@Tags		Account
//	@Accept		json
//	@Produce	json
//	@Param		body	body		EmailRequest	true	"address"
//	@Success	202		{object}	StatusResponse
//	@Failure	400		{object}	httpx.ErrorBody
//	@Router		/v1/account/resend-verification [post].
func (h *AccountHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.Client.ResendVerification(r.Context(), req.Email); err != nil {
		writeSDKError(w, r, err)
		return
	}
	accepted(w, "verification_sent")
}

// VerifyEmail godoc
//
//	@Summary	Confirm an email address
//	@Tags		Account
//	@Accept		json
//	@Produce	json
//	@Param		body	body		VerifyEmailRequest	true	"verification key"
//	@Success	200		{object}	StatusResponse
//	@Failure	400		{object}	httpx.ErrorBody
//	@Router		/v1/account/verify-email [post].
func (h *AccountHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.Client.VerifyEmail(r.Context(), req.Key); err != nil {
		writeSDKError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, StatusResponse{Status: "verified"})
}

// RequestPasswordReset godoc
//
//	@Summary		Request a password reset email
//	@Description	The backend throttles reset emails; a 429 carries Retry-After.
//	@Tags			Account
//	@Accept			json
//	@Produce		json
//	@Param			body	body		EmailRequest	true	"address"
//	@Success		202		{object}	StatusResponse
//	@Failure		400		{object}	httpx.ErrorBody
//	@Failure		429		{object}	httpx.ErrorBody
//	@Router			/v1/account/password/reset [post].
func (h *AccountHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.Client.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeSDKError(w, r, err)
		return
	}
	accepted(w, "reset_sent")
}

// ConfirmPasswordReset godoc
//
//	@Summary	Set a new password from a reset link
//	@Tags		Account
//	@Accept		json
//	@Produce	json
//	@Param		body	body		PasswordConfirmRequest	true	"reset confirmation"
//	@Success	200		{object}	StatusResponse
//	@Failure	400		{object}	httpx.ErrorBody	"keys uid, token, newPassword1, newPassword2"
//	@Router		/v1/account/password/confirm [post].
func (h *AccountHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordConfirmRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	err := h.Client.ConfirmPasswordReset(r.Context(), authsdk.PasswordResetConfirm{
		UID:          req.UID,
		Token:        req.Token,
		NewPassword1: req.NewPassword1,
		NewPassword2: req.NewPassword2,
	})
	if err != nil {
		writeSDKError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, StatusResponse{Status: "password_changed"})
}
