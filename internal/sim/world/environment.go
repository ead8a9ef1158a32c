package world

import "time"

// Procedural environment descriptors. These are pure functions of position
// and wall-clock time so every process computes the same world dressing
// without storing it.

var biomes = []struct {
	threshold int
	name      string
}{
	{20, "plains"},
	{40, "forest"},
	{55, "hills"},
	{70, "wetlands"},
	{85, "desert"},
	{100, "tundra"},
}

// BiomeAt derives a stable biome name from the coordinate.
func BiomeAt(x, y int) string {
	seed := abs(x*73+y*137) % 100
	for _, b := range biomes {
		if seed < b.threshold {
			return b.name
		}
	}
	return biomes[len(biomes)-1].name
}

// WeatherAt mixes position with the hour and day so weather drifts over
// time but neighbors see coherent conditions.
func WeatherAt(x, y int, at time.Time) string {
	hour := at.UTC().Hour()
	day := at.UTC().YearDay()
	seed := abs(x*31+y*17+hour*7+day*3) % 100
	switch {
	case seed < 40:
		return "clear"
	case seed < 60:
		return "cloudy"
	case seed < 75:
		return "windy"
	case seed < 90:
		return "rain"
	default:
		return "storm"
	}
}

// LocalHour shifts the wall clock by longitude (one hour per 10 units of x)
// plus the user's personal drift, wrapped to [0, 24).
func LocalHour(x int, timeOffset float64, at time.Time) int {
	h := float64(at.UTC().Hour()) + float64(x/10) + timeOffset
	hi := int(h) % 24
	if hi < 0 {
		hi += 24
	}
	return hi
}
