package gpx

import (
	"encoding/xml"
	"io"
	"time"
)

const (
	namespace = "http://www.topografix.com/GPX/1/1"
	creator   = "runtrack"
)

// Point is a GPX track point.
type Point struct {
	Lat  float64    `xml:"lat,attr"`
	Lon  float64    `xml:"lon,attr"`
	Time *time.Time `xml:"time,omitempty"`
}

type TrackSegment struct {
	Points []Point `xml:"trkpt"`
}

type Track struct {
	Name     string         `xml:"name,omitempty"`
	Type     string         `xml:"type,omitempty"`
	Segments []TrackSegment `xml:"trkseg"`
}

type Metadata struct {
	Name string     `xml:"name,omitempty"`
	Time *time.Time `xml:"time,omitempty"`
}

type GPX struct {
	XMLName  xml.Name  `xml:"gpx"`
	Version  string    `xml:"version,attr"`
	Creator  string    `xml:"creator,attr"`
	XMLNS    string    `xml:"xmlns,attr"`
	Metadata *Metadata `xml:"metadata,omitempty"`
	Tracks   []Track   `xml:"trk"`
}

// NewRun wraps one run's points as a single-segment running track.
func NewRun(name string, start time.Time, points []Point) GPX {
	doc := GPX{
		Version: "1.1",
		Creator: creator,
		XMLNS:   namespace,
		Tracks: []Track{{
			Name:     name,
			Type:     "running",
			Segments: []TrackSegment{{Points: points}},
		}},
	}
	if !start.IsZero() {
		t := start.UTC()
		doc.Metadata = &Metadata{Name: name, Time: &t}
	}
	return doc
}

func Encode(w io.Writer, doc GPX) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Flush()
}

func Decode(r io.Reader) (GPX, error) {
	var doc GPX
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return GPX{}, err
	}
	return doc, nil
}
