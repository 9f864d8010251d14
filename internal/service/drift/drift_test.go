package drift

import (
	"testing"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

func baseProject() domain.Project {
	return domain.Project{
		ID:               "p1",
		RepoOwner:        "acme",
		RepoName:         "shop",
		RepoBranch:       "main",
		HasDockerCompose: true,
		Services:         []domain.Service{{ServiceName: "web", ContainerName: "shop-web"}},
		Routing: domain.RoutingModel{Servers: []domain.Server{{
			ServerID: "s1",
			Domain:   "shop.example.com",
			Locations: []domain.Location{
				{LocationID: "web", Path: "/", Type: domain.LocationStatic, Static: &domain.StaticLocation{ServeDir: "dist"}},
			},
		}}},
	}
}

func baseSecrets() []domain.Secret {
	return []domain.Secret{{SecretName: "B", SecretValue: "1"}, {SecretName: "A", SecretValue: "2"}}
}

func TestEqualReflexiveAndSymmetric(t *testing.T) {
	a := Take(baseProject(), baseSecrets())
	changed := baseProject()
	changed.RepoBranch = "dev"
	b := Take(changed, baseSecrets())

	if !Equal(a, a) {
		t.Fatal("expected snapshot to equal itself")
	}
	if Equal(a, b) != Equal(b, a) {
		t.Fatal("expected Equal to be symmetric")
	}
	if Equal(a, b) {
		t.Fatal("expected branch change to be drift")
	}
}

func TestEqualIgnoresSecretValuesAndOrder(t *testing.T) {
	a := Take(baseProject(), baseSecrets())
	b := Take(baseProject(), []domain.Secret{{SecretName: "A", SecretValue: "changed"}, {SecretName: "B", SecretValue: "x", Variable: true}})
	if !Equal(a, b) {
		t.Fatal("expected secret value edits not to count as drift")
	}
}

func TestEqualDetectsSecretNameChange(t *testing.T) {
	a := Take(baseProject(), baseSecrets())
	b := Take(baseProject(), []domain.Secret{{SecretName: "A"}, {SecretName: "C"}})
	if Equal(a, b) {
		t.Fatal("expected renamed secret to be drift")
	}
}

func TestEqualDetectsLocationPathChange(t *testing.T) {
	a := Take(baseProject(), baseSecrets())
	changed := baseProject()
	changed.Routing.Servers[0].Locations[0].Path = "/app"
	b := Take(changed, baseSecrets())
	if Equal(a, b) || Equal(b, a) {
		t.Fatal("expected path change to be drift")
	}
}

func TestEqualDetectsAddedLocationAndFlags(t *testing.T) {
	a := Take(baseProject(), baseSecrets())

	added := baseProject()
	added.Routing.Servers[0].Locations = append(added.Routing.Servers[0].Locations, domain.Location{
		LocationID: "api", Path: "/api", Type: domain.LocationProxy, Proxy: &domain.ProxyLocation{ProxyPass: "3000"},
	})
	if Equal(a, Take(added, baseSecrets())) {
		t.Fatal("expected added location to be drift")
	}

	flag := baseProject()
	flag.HasDotenv = true
	if Equal(a, Take(flag, baseSecrets())) {
		t.Fatal("expected discovery flag change to be drift")
	}
}

func TestEqualTreatsNilAndEmptyAlike(t *testing.T) {
	p := baseProject()
	p.Services = nil
	q := baseProject()
	q.Services = []domain.Service{}
	if !Equal(Take(p, nil), Take(q, []domain.Secret{})) {
		t.Fatal("expected nil and empty collections to compare equal")
	}
}
