package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Nominatim queries an OSM Nominatim endpoint for places matching a category
// inside a bounding box around the point.
type Nominatim struct {
	BaseURL string
	HTTP    *http.Client
}

func NewNominatim(baseURL string, timeout time.Duration) *Nominatim {
	return &Nominatim{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (n *Nominatim) FindNearby(ctx context.Context, category string, lat, lon, radiusKm float64) (bool, error) {
	// A degree of latitude is ~111 km; longitude shrinks with latitude but
	// the box only needs to contain the search circle, not match it.
	d := radiusKm / 111.0

	q := url.Values{}
	q.Set("q", category)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	q.Set("bounded", "1")
	q.Set("viewbox", fmt.Sprintf("%s,%s,%s,%s",
		fmtCoord(lon-d), fmtCoord(lat+d), fmtCoord(lon+d), fmtCoord(lat-d)))

	req, err := http.NewRequestWithContext(ctx, "GET", n.BaseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", "tasknext-backend")

	res, err := n.HTTP.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return false, fmt.Errorf("nominatim status %d", res.StatusCode)
	}

	var hits []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(res.Body).Decode(&hits); err != nil {
		return false, err
	}
	if len(hits) == 0 {
		return false, nil
	}

	// The viewbox is a superset of the circle; confirm with real distance.
	hlat, err1 := strconv.ParseFloat(hits[0].Lat, 64)
	hlon, err2 := strconv.ParseFloat(hits[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return false, fmt.Errorf("nominatim returned malformed coordinates")
	}
	return DistanceMeters(lat, lon, hlat, hlon) <= radiusKm*1000, nil
}

func fmtCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
