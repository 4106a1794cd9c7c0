package core

import "fmt"

type Environment string

const (
	DevelopmentEnv Environment = "development"
	ProductionEnv  Environment = "production"
)

func ParseEnvironment(s string) (Environment, error) {
	switch env := Environment(s); env {
	case DevelopmentEnv, ProductionEnv:
		return env, nil
	default:
		return "", fmt.Errorf("unknown environment %q", s)
	}
}

func (e Environment) IsProduction() bool {
	return e == ProductionEnv
}

func (e Environment) IsDevelopment() bool {
	return e == DevelopmentEnv
}
