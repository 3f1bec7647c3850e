package session

import (
	"encoding/json"
	"fmt"
	"os"
)

// Cookie is a single pre-exported browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	Expires  float64 `json:"expirationDate,omitempty"`
}

// LoadCookies reads a JSON array of cookies from the file provided. Cookies
// missing a name or domain are rejected; a missing path defaults to "/".
func LoadCookies(path string) ([]Cookie, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file '%s': %w", path, err)
	}

	var cookies []Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		return nil, fmt.Errorf("cookie file '%s' is not a JSON cookie array: %w", path, err)
	}

	for i := range cookies {
		if cookies[i].Name == "" || cookies[i].Domain == "" {
			return nil, fmt.Errorf("cookie %d in '%s' is missing a name or domain", i, path)
		}
		if cookies[i].Path == "" {
			cookies[i].Path = "/"
		}
	}

	return cookies, nil
}
