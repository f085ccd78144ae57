package relay

import "maps"

// Configuration is the transport target. Two values are equal when the
// endpoint and the header sets are identical; nil and empty header sets are
// the same.
type Configuration struct {
	Endpoint string            `json:"endpoint"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Equal reports full equality.
func (c Configuration) Equal(o Configuration) bool {
	return c.Endpoint == o.Endpoint && len(c.Headers) == len(o.Headers) && maps.Equal(c.Headers, o.Headers)
}

func (c Configuration) clone() Configuration {
	c.Headers = maps.Clone(c.Headers)
	return c
}
