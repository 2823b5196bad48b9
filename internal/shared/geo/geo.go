package geo

import "math"

// EarthRadiusM is the mean Earth radius used for great-circle distances.
const EarthRadiusM = 6371000.0

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineM returns the great-circle distance in meters between two points given in degrees.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineM(lat1, lng1, lat2, lng2) / 1000
}

// Distance is HaversineM over LatLng values.
func Distance(a, b LatLng) float64 {
	return HaversineM(a.Lat, a.Lng, b.Lat, b.Lng)
}

// TotalDistance sums the distances between consecutive points. Fewer than two points yield 0.
func TotalDistance(points []LatLng) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// Accumulator keeps a running TotalDistance as points are appended.
type Accumulator struct {
	last  LatLng
	count int
	total float64
}

// Add appends p and returns the distance it contributed.
func (a *Accumulator) Add(p LatLng) float64 {
	delta := 0.0
	if a.count > 0 {
		delta = Distance(a.last, p)
		a.total += delta
	}
	a.last = p
	a.count++
	return delta
}

func (a *Accumulator) Total() float64 { return a.total }

func (a *Accumulator) Count() int { return a.count }

func (a *Accumulator) Reset() { *a = Accumulator{} }

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
