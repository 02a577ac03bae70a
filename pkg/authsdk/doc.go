/*
Package authsdk keeps a user signed in against the identity backend and keeps
every API call authorized.

# SDKClient vs Manager

SDKClient performs the unauthenticated calls:

	client := authsdk.NewSDKClient("https://backend.example.com/api")

	// Credential exchange; the mode picks the endpoint.
	res, err := client.Login(ctx, email, password)
	res, err := client.Register(ctx, email, password, confirm)

	// Google ID token exchange. false means "deny the sign-in".
	res, ok := client.ExchangeGoogleToken(ctx, idToken)

	// Account emails.
	err := client.ResendVerification(ctx, email)
	err := client.RequestPasswordReset(ctx, email)

Manager owns Sessions. It turns exchange results into Sessions, refreshes
them when they are read and applies profile updates:

	m := authsdk.NewManager(authsdk.ManagerConfig{
		Client: client,
		Store:  authsdk.NewMemoryStore(),
	})

	s, err := m.SignInWithPassword(ctx, email, password)

	// Later: refreshes first if the access token has expired.
	s, err = m.Current(ctx, s.ID)
	if s.NeedsReauthentication() {
		// send the user back to sign-in
	}

# Dispatching requests

Feature code sends requests through a Dispatcher. It attaches the access
token, and on a 401 refreshes the Session and replays the request exactly
once:

	resp, err := m.Dispatcher(s.ID).Do(ctx, authsdk.Request{
		Method: http.MethodGet,
		Path:   "/texts/",
	})

Refreshes are single-flight: concurrent callers holding the same refresh
token share one call to the backend.

# Errors

	var vErr *authsdk.ValidationError
	switch {
	case errors.Is(err, authsdk.ErrEmailNotVerified):
		// offer to resend the verification email
	case errors.As(err, &vErr):
		// render vErr.Fields per input
	case errors.Is(err, authsdk.ErrVerificationSent):
		// registration accepted, check your email
	}

A dispatched request that still fails returns *HTTPError. If the refresh
failed as well, the error also matches ErrRefreshAccessToken.
*/
package authsdk
