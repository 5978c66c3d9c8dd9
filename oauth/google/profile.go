package google

import "github.com/goliatone/go-identity/oauth"

type userInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
	HostedDomain  string `json:"hd"`
}

func mapProfile(info *userInfo) *oauth.Profile {
	name := info.Name
	if name == "" {
		name = joinName(info.GivenName, info.FamilyName)
	}

	return &oauth.Profile{
		Subject:       info.Sub,
		Provider:      "google",
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          name,
		AvatarURL:     info.Picture,
		Raw: map[string]any{
			"sub": info.Sub,
			"hd":  info.HostedDomain,
		},
	}
}

func joinName(given, family string) string {
	switch {
	case given == "":
		return family
	case family == "":
		return given
	}
	return given + " " + family
}
