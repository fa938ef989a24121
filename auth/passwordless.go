package auth

import (
	"context"
	"io"

	"github.com/johnsto/go-passwordless"
)

func (a *Auth) getTransport() string {
	if a.Environment == EnvProduction {
		return "Email"
	}
	return "Log"
}

// Request will send the signup link with the invite token to the invitee
func (a *Auth) Request(ctx context.Context, uid, recipient string) error {
	return a.pw.RequestToken(ctx, a.getTransport(), uid, recipient)
}

// Verify checks if the invite token is valid and corresponds to the invitee
func (a *Auth) Verify(ctx context.Context, uid, token string) (bool, error) {
	valid, err := a.pw.VerifyToken(ctx, uid, token)
	switch err {
	case passwordless.ErrNoResponseWriter, passwordless.ErrNoStore, passwordless.ErrNoTransport, passwordless.ErrNotValidForContext:
		return valid, err
	default:
		return valid, nil
	}
}

func composeFuncGetter(options EmailOption) passwordless.ComposerFunc {
	return func(ctx context.Context, token, uid, recipient string, w io.Writer) error {
		e := &passwordless.Email{
			Subject: "Your invitation to join " + options.Name,
			To:      recipient,
		}

		link := options.LinkGenerator(uid, token)

		text := "You have been invited to become a member of " + options.Name + ".\n\n" +
			"Use the following link to complete your signup (valid for 24 hours): " +
			link + "\n\n" +
			"(If you were not expecting this invitation, you can safely ignore " +
			"this email.)"
		html := "<!doctype html><html><body>" +
			"<p>You have been invited to become a member of " + options.Name + ".</p>" +
			"<p><a href=\"" + link + "\">Click here</a> to complete your signup. " +
			"The link is valid for 24 hours.</p>" +
			"<p>(If you were not expecting this invitation, you can safely ignore " +
			"this email.)</p></body></html>"

		e.AddBody("text/plain", text)
		e.AddBody("text/html", html)

		_, err := e.Write(w)

		return err
	}
}
