package config

import (
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions selects credentials for Google Cloud clients. Inline JSON
// wins over a key file; with neither set the clients fall back to
// application default credentials.
func (g GCPConfig) ClientOptions() []option.ClientOption {
	if js := strings.TrimSpace(g.CredentialsJSON); js != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(js))}
	}
	if file := strings.TrimSpace(g.ApplicationCredentials); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}
