package image

import (
	_ "crypto/sha256" // so that digests can be verified
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

var (
	ErrInvalidImageRef   = errors.New("invalid image reference")
	ErrBlankImageRef     = errors.Wrap(ErrInvalidImageRef, "blank image name")
	ErrMalformedImageRef = errors.Wrap(ErrInvalidImageRef, `expected image reference as <repo>, <repo>:<tag> or <repo>:<tag>@<digest>`)
)

// Name is an untagged image, i.e., a repository. Images pushed by
// ecsdeploy always have a domain (the ECR registry); images named
// directly in task templates may not.
//
// Examples (stringified):
//   * alpine
//   * 123456789012.dkr.ecr.eu-west-1.amazonaws.com/app/hello
//   * localhost:5000/app/hello
type Name struct {
	Domain, Image string
}

func (n Name) String() string {
	if n.Image == "" {
		return ""
	}
	if n.Domain == "" {
		return n.Image
	}
	return n.Domain + "/" + n.Image
}

func (n Name) ToRef(tag string) Ref {
	return Ref{Name: n, Tag: tag}
}

// Ref is a tagged image, optionally pinned to the digest the registry
// reported when it was pushed.
type Ref struct {
	Name
	Tag    string
	Digest digest.Digest
}

// String gives the reference as it would be written in a task
// definition. The digest, when known, is included, so that a task
// definition names exactly the image that was pushed.
func (r Ref) String() string {
	s := r.Name.String()
	if r.Tag != "" {
		s += ":" + r.Tag
	}
	if r.Digest != "" {
		s += "@" + r.Digest.String()
	}
	return s
}

// Tagged is the reference without the digest, as used to tag a local
// image before pushing it.
func (r Ref) Tagged() string {
	return Ref{Name: r.Name, Tag: r.Tag}.String()
}

// ParseRef parses the string form of an image reference.
func ParseRef(s string) (Ref, error) {
	var ref Ref
	if s == "" {
		return ref, errors.Wrapf(ErrBlankImageRef, "parsing %q", s)
	}
	if i := strings.Index(s, "@"); i >= 0 {
		d, err := digest.Parse(s[i+1:])
		if err != nil {
			return ref, errors.Wrapf(ErrMalformedImageRef, "parsing %q: %s", s, err)
		}
		ref.Digest = d
		s = s[:i]
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return ref, errors.Wrapf(ErrMalformedImageRef, "parsing %q", s)
	}

	elements := strings.Split(s, "/")
	switch len(elements) {
	case 1:
		ref.Image = s
	case 2:
		// "localhost/foo" has a domain, "library/foo" does not
		if domainRegexp.MatchString(elements[0]) {
			ref.Domain = elements[0]
			ref.Image = elements[1]
		} else {
			ref.Image = s
		}
	default:
		ref.Domain = elements[0]
		ref.Image = strings.Join(elements[1:], "/")
	}

	parts := strings.Split(ref.Image, ":")
	switch len(parts) {
	case 1:
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return ref, errors.Wrapf(ErrMalformedImageRef, "parsing %q", s)
		}
		ref.Image = parts[0]
		ref.Tag = parts[1]
	default:
		return ref, errors.Wrapf(ErrMalformedImageRef, "parsing %q", s)
	}
	return ref, nil
}

var (
	domainComponent = `([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9-]*[a-zA-Z0-9])`
	domain          = fmt.Sprintf(`^(localhost|(%s([.]%s)+))(:[0-9]+)?$`, domainComponent, domainComponent)
	domainRegexp    = regexp.MustCompile(domain)
)

// Refs are serialised as strings
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Ref) UnmarshalJSON(data []byte) (err error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*r, err = ParseRef(str)
	return err
}
