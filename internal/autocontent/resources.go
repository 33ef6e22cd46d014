package autocontent

import "regexp"

// Resource types accepted by the content creation endpoint
const (
	ResourceTypeWebsite = "website"
	ResourceTypeText    = "text"
)

// Resource is one input reference for a generation request
type Resource struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Website builds a website resource from a URL
func Website(url string) Resource {
	return Resource{Content: url, Type: ResourceTypeWebsite}
}

// Text builds an inline text resource
func Text(content string) Resource {
	return Resource{Content: content, Type: ResourceTypeText}
}

var arxivAbsPattern = regexp.MustCompile(`^(https?://)(?:www\.)?arxiv\.org/abs/([^?#\s]+)`)

// ExpandResources rewrites arXiv abstract URLs into a PDF reference plus
// an HTML reference before submission. The remote ingester handles those
// formats far more reliably than the abstract landing page; this is a
// compatibility shim for one host, not a generic transformation. All
// other resources pass through unchanged.
func ExpandResources(resources []Resource) []Resource {
	out := make([]Resource, 0, len(resources))
	for _, r := range resources {
		if r.Type != ResourceTypeWebsite {
			out = append(out, r)
			continue
		}

		m := arxivAbsPattern.FindStringSubmatch(r.Content)
		if m == nil {
			out = append(out, r)
			continue
		}

		scheme, paperID := m[1], m[2]
		out = append(out,
			Website(scheme+"arxiv.org/pdf/"+paperID),
			Website(scheme+"arxiv.org/html/"+paperID),
		)
	}
	return out
}
