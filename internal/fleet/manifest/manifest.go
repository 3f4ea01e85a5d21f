// Package manifest renders the per-workload configuration artifacts: the pm2
// ecosystem manifest, the static entrypoint script and the dependency
// manifest. Rendering is pure string substitution; all I/O belongs to the
// caller.
package manifest

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/haxhost/fleet/internal/fleet/domain"
	"github.com/haxhost/fleet/pkg/errors"
)

//go:embed templates/*.js
var templates embed.FS

// Params carries the render inputs that do not live on the workload record.
// Token is the decrypted game credential; it exists only for the duration of
// the render call.
type Params struct {
	BasePath      string
	Token         string
	APIURL        string
	WebhookSecret string
}

// placeholderPattern matches any unresolved substitution token left in the
// rendered output.
var placeholderPattern = regexp.MustCompile(`<[A-Z][A-Z0-9_]*>`)

// RenderEcosystem substitutes every placeholder in the ecosystem template.
// A placeholder surviving substitution means template and renderer have
// drifted apart, and is an error rather than something to ship remotely.
func RenderEcosystem(w *domain.Workload, admins []domain.AdminCredential, p Params) (string, error) {
	raw, err := templates.ReadFile("templates/ecosystem.config.template.js")
	if err != nil {
		return "", fmt.Errorf("read ecosystem template: %w", err)
	}

	adminsJSON, err := encodeAdmins(admins)
	if err != nil {
		return "", err
	}

	replacements := map[string]string{
		"<SERVER_ID>":              w.ID,
		"<TOKEN>":                  p.Token,
		"<ROOM_NAME>":              w.Name,
		"<MAP>":                    mapOrDefault(w.Map),
		"<MAX_PLAYERS>":            strconv.Itoa(w.MaxPlayers),
		"<PASSWORD>":               w.Password,
		"<IS_PUBLIC>":              strconv.FormatBool(w.IsPublic),
		"<ADMINS_JSON>":            adminsJSON,
		"<HAXHOST_API_URL>":        p.APIURL,
		"<HAXHOST_WEBHOOK_SECRET>": p.WebhookSecret,
		"<PM2_PROCESS_NAME>":       w.PM2ProcessName,
		"<BASE_PATH>":              p.BasePath,
	}

	rendered := string(raw)
	for placeholder, value := range replacements {
		rendered = strings.ReplaceAll(rendered, placeholder, value)
	}

	if leftover := placeholderPattern.FindString(rendered); leftover != "" {
		return "", fmt.Errorf("%w: %s", errors.ErrTemplateUnresolved, leftover)
	}
	return rendered, nil
}

// encodeAdmins serializes the active credential list as the escaped JSON
// string the manifest embeds in a quoted env value.
func encodeAdmins(admins []domain.AdminCredential) (string, error) {
	type adminEntry struct {
		Hash  string `json:"hash"`
		Label string `json:"label"`
	}
	entries := make([]adminEntry, 0, len(admins))
	for _, a := range domain.ActiveAdmins(admins) {
		label := a.Label
		if label == "" {
			label = "Admin"
		}
		entries = append(entries, adminEntry{Hash: a.Hash, Label: label})
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode admin list: %w", err)
	}
	return strings.ReplaceAll(string(data), `"`, `\"`), nil
}

// Entrypoint returns the static server entrypoint. It is parametrized only
// through environment variables at remote runtime, never at render time.
func Entrypoint() (string, error) {
	raw, err := templates.ReadFile("templates/haxball-server.template.js")
	if err != nil {
		return "", fmt.Errorf("read entrypoint template: %w", err)
	}
	return string(raw), nil
}

// RenderPackageJSON produces the dependency manifest installed on the remote
// host before first start.
func RenderPackageJSON(workloadID string) (string, error) {
	pkg := map[string]interface{}{
		"name":        "haxhost-server-" + workloadID,
		"version":     "1.0.0",
		"description": "HaxHost hosted game server",
		"main":        "index.js",
		"scripts": map[string]string{
			"start": "node index.js",
		},
		"dependencies": map[string]string{
			"haxball.js": "^3.0.0",
			"node-fetch": "^2.7.0",
		},
	}
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode package.json: %w", err)
	}
	return string(data), nil
}

func mapOrDefault(m string) string {
	if m == "" {
		return "Big"
	}
	return m
}
