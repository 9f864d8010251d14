// Package secrets merges newly discovered environment declarations with stored secrets.
package secrets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/subosito/gotenv"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

// Discovery is everything a repository sync found that may declare an environment variable.
type Discovery struct {
	DotEnv      string
	Compose     *domain.ComposeFile
	SourceNames []string
}

// Reconcile returns the full replacement secret set for a project. Names are unioned across
// .env, compose and source scan in that priority order; existing records win verbatim.
func Reconcile(projectID string, found Discovery, existing []domain.Secret) ([]domain.Secret, error) {
	dotenv, err := parseDotEnv(projectID, found.DotEnv)
	if err != nil {
		return nil, err
	}
	candidates := make([]domain.Secret, 0, len(dotenv))
	candidates = append(candidates, dotenv...)
	candidates = append(candidates, composeDeclarations(projectID, found.Compose)...)
	for _, name := range found.SourceNames {
		candidates = append(candidates, domain.Secret{ProjectID: projectID, SecretName: name})
	}

	stored := make(map[string]domain.Secret, len(existing))
	for _, s := range existing {
		stored[s.SecretName] = s
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]domain.Secret, 0, len(candidates))
	for _, c := range candidates {
		name := strings.TrimSpace(c.SecretName)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if prev, ok := stored[name]; ok {
			out = append(out, prev)
			continue
		}
		c.SecretName = name
		out = append(out, c)
	}
	return out, nil
}

func parseDotEnv(projectID, raw string) ([]domain.Secret, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	env, err := gotenv.StrictParse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: parse .env: %v", domain.ErrInvalidConfig, err)
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.Secret, 0, len(names))
	for _, name := range names {
		out = append(out, domain.Secret{ProjectID: projectID, SecretName: name, SecretPlaceholder: env[name]})
	}
	return out, nil
}

func composeDeclarations(projectID string, compose *domain.ComposeFile) []domain.Secret {
	if compose == nil {
		return nil
	}
	var out []domain.Secret
	for _, svc := range compose.ServiceNames() {
		for _, env := range compose.Services[svc].Environment {
			out = append(out, domain.Secret{ProjectID: projectID, SecretName: env.Name, SecretPlaceholder: env.Value})
		}
	}
	return out
}

// Names returns the sorted secret names.
func Names(secrets []domain.Secret) []string {
	out := make([]string, 0, len(secrets))
	for _, s := range secrets {
		out = append(out, s.SecretName)
	}
	sort.Strings(out)
	return out
}

// DotEnv renders secrets as KEY=value lines in name order, quoting values that need it.
func DotEnv(secrets []domain.Secret) string {
	sorted := append([]domain.Secret(nil), secrets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SecretName < sorted[j].SecretName })
	var b strings.Builder
	for _, s := range sorted {
		b.WriteString(s.SecretName)
		b.WriteByte('=')
		b.WriteString(quoteValue(s.SecretValue))
		b.WriteByte('\n')
	}
	return b.String()
}

func quoteValue(v string) string {
	if v == "" || !strings.ContainsAny(v, " \t\n\"'#$\\=") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, `$`, `\$`)
	return `"` + r.Replace(v) + `"`
}
