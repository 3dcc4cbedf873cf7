package dsn

// Descriptor is the result of normalizing a connection string.
// An empty field means the value is absent.
type Descriptor struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// IsZero reports whether nothing was resolved.
func (d Descriptor) IsZero() bool {
	return d.URL == "" && d.Username == "" && d.Password == ""
}

// WithOverrides returns a copy of d where non-empty username and password
// replace the values extracted from the URL.
func (d Descriptor) WithOverrides(username, password string) Descriptor {
	if username != "" {
		d.Username = username
	}
	if password != "" {
		d.Password = password
	}
	return d
}

// Masked returns a copy safe for logging and display.
func (d Descriptor) Masked() Descriptor {
	d.URL = Mask(d.URL)
	if d.Password != "" {
		d.Password = maskedSecret
	}
	return d
}
