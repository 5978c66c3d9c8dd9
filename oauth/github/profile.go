package github

import "github.com/goliatone/go-identity/oauth"

type user struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
	Company   string `json:"company"`
	Bio       string `json:"bio"`
}

type email struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func mapProfile(u *user, address string, verified bool) *oauth.Profile {
	return &oauth.Profile{
		Subject:       fmtUserID(u.ID),
		Provider:      "github",
		Email:         address,
		EmailVerified: verified,
		Name:          u.Name,
		Username:      u.Login,
		AvatarURL:     u.AvatarURL,
		Bio:           u.Bio,
		Company:       u.Company,
		Raw: map[string]any{
			"id":       u.ID,
			"login":    u.Login,
			"html_url": u.HTMLURL,
		},
	}
}
