package discovery

// Discovery provides gossip seed addresses.
type Discovery interface {
	Seeds() []string
}
