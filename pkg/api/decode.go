package api

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
)

// DecodeError reports a response body that failed structured decoding.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s response: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Nation is the decoded standard nation shard set. Shards outside the
// standard set remain available in the raw response body.
type Nation struct {
	XMLName      xml.Name `xml:"NATION"`
	ID           string   `xml:"id,attr"`
	Name         string   `xml:"NAME"`
	FullName     string   `xml:"FULLNAME"`
	Type         string   `xml:"TYPE"`
	Motto        string   `xml:"MOTTO"`
	Category     string   `xml:"CATEGORY"`
	Region       string   `xml:"REGION"`
	Population   int64    `xml:"POPULATION"`
	Flag         string   `xml:"FLAG"`
	Currency     string   `xml:"CURRENCY"`
	Animal       string   `xml:"ANIMAL"`
	Demonym      string   `xml:"DEMONYM"`
	Founded      string   `xml:"FOUNDED"`
	LastActivity string   `xml:"LASTACTIVITY"`
	Influence    string   `xml:"INFLUENCE"`
	WAStatus     string   `xml:"UNSTATUS"`
}

// Region is the decoded standard region shard set.
type Region struct {
	XMLName     xml.Name `xml:"REGION"`
	ID          string   `xml:"id,attr"`
	Name        string   `xml:"NAME"`
	Factbook    string   `xml:"FACTBOOK"`
	NumNations  int      `xml:"NUMNATIONS"`
	Nations     string   `xml:"NATIONS"`
	Delegate    string   `xml:"DELEGATE"`
	Founder     string   `xml:"FOUNDER"`
	Power       string   `xml:"POWER"`
	LastUpdate  int64    `xml:"LASTUPDATE"`
	Embassies   []string `xml:"EMBASSIES>EMBASSY"`
	OfficerList []string `xml:"OFFICERS>OFFICER>NATION"`
}

// NationList splits the colon-separated resident roster.
func (r *Region) NationList() []string {
	if r.Nations == "" {
		return nil
	}
	return strings.Split(r.Nations, ":")
}

// World is the decoded world shard set.
type World struct {
	XMLName        xml.Name `xml:"WORLD"`
	NumNations     int      `xml:"NUMNATIONS"`
	NumRegions     int      `xml:"NUMREGIONS"`
	FeaturedRegion string   `xml:"FEATUREDREGION"`
	NewNations     string   `xml:"NEWNATIONS"`
}

// WorldAssembly is the decoded World Assembly council shard set.
type WorldAssembly struct {
	XMLName      xml.Name `xml:"WA"`
	Council      int      `xml:"council,attr"`
	NumNations   int      `xml:"NUMNATIONS"`
	NumDelegates int      `xml:"NUMDELEGATES"`
	Delegates    string   `xml:"DELEGATES"`
	Members      string   `xml:"MEMBERS"`
}

// Response is the decoded result of one completed request. Body always holds
// the raw response text; the typed field matching the request kind is
// populated for shard queries, and Text carries the trimmed body for
// plain-text endpoints (verify, telegram receipts, commands).
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	Nation *Nation
	Region *Region
	World  *World
	WA     *WorldAssembly
	Text   string
}

// Decode transforms a raw successful response into a structured Response.
// XML parse failures surface as *DecodeError and the result is discarded;
// callers never cache a response that failed to decode.
func Decode(kind Kind, status int, header http.Header, body []byte) (*Response, error) {
	resp := &Response{
		Status: status,
		Header: header,
		Body:   body,
	}

	switch kind {
	case KindNation:
		n := &Nation{}
		if err := xml.Unmarshal(body, n); err != nil {
			return nil, &DecodeError{Kind: kind, Err: err}
		}
		resp.Nation = n
	case KindRegion:
		r := &Region{}
		if err := xml.Unmarshal(body, r); err != nil {
			return nil, &DecodeError{Kind: kind, Err: err}
		}
		resp.Region = r
	case KindWorld:
		w := &World{}
		if err := xml.Unmarshal(body, w); err != nil {
			return nil, &DecodeError{Kind: kind, Err: err}
		}
		resp.World = w
	case KindWorldAssembly:
		wa := &WorldAssembly{}
		if err := xml.Unmarshal(body, wa); err != nil {
			return nil, &DecodeError{Kind: kind, Err: err}
		}
		resp.WA = wa
	default:
		resp.Text = strings.TrimSpace(string(body))
	}

	return resp, nil
}

// Clone returns a deep copy of the response, so a caller mutating its copy
// cannot corrupt a cached value.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		Text:   r.Text,
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	if r.Nation != nil {
		n := *r.Nation
		out.Nation = &n
	}
	if r.Region != nil {
		reg := *r.Region
		reg.Embassies = append([]string(nil), r.Region.Embassies...)
		reg.OfficerList = append([]string(nil), r.Region.OfficerList...)
		out.Region = &reg
	}
	if r.World != nil {
		w := *r.World
		out.World = &w
	}
	if r.WA != nil {
		wa := *r.WA
		out.WA = &wa
	}
	return out
}
