package domain

// Secret is one environment variable declaration for a project.
// When Variable is true, SecretValue holds an encoded DynamicVariablePath rather than a literal.
type Secret struct {
	ProjectID         string
	SecretName        string
	SecretValue       string
	SecretPlaceholder string
	Variable          bool
}
