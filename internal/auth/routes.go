package auth

import "strings"

// Routes that show decrypted content. Entering them requires an unlocked session.
const (
	RouteVault  = "vault"
	RouteViewer = "viewer/{id}"
)

// IsSecureRoute reports whether route shows vault content. Both the viewer
// pattern and concrete viewer routes such as "viewer/<id>" qualify.
func IsSecureRoute(route string) bool {
	switch route {
	case RouteVault, RouteViewer:
		return true
	}
	id, ok := strings.CutPrefix(route, "viewer/")
	return ok && id != "" && !strings.Contains(id, "/")
}
