package frame

import (
	"fmt"
	"time"

	"ws28xx/pkg/codec"
)

// DirectionAbsent is the compass index of a direction sample without a wind reading.
const DirectionAbsent uint8 = 16

// CurrentWeather is the decoded 215 byte current weather block.
type CurrentWeather struct {
	Time time.Time `json:"time"`

	WeatherState    uint8 `json:"weather_state"`
	WeatherTendency uint8 `json:"weather_tendency"`

	TempIndoor      MinMax `json:"temp_indoor"`
	TempOutdoor     MinMax `json:"temp_outdoor"`
	Windchill       MinMax `json:"windchill"`
	Dewpoint        MinMax `json:"dewpoint"`
	HumidityIndoor  MinMax `json:"humidity_indoor"`
	HumidityOutdoor MinMax `json:"humidity_outdoor"`
	Pressure        MinMax `json:"pressure"`

	Rain1H        Peak          `json:"rain_1h"`
	Rain24H       Peak          `json:"rain_24h"`
	RainWeek      Peak          `json:"rain_week"`
	RainMonth     Peak          `json:"rain_month"`
	RainTotal     codec.Reading `json:"rain_total"`
	LastRainReset *time.Time    `json:"last_rain_reset,omitempty"`

	WindSpeed Peak `json:"wind_speed"`
	Gust      Peak `json:"gust"`
	// Directions are compass indexes, [0] is the latest sample.
	WindDirection [5]uint8 `json:"wind_direction"`
	GustDirection [5]uint8 `json:"gust_direction"`

	Battery        uint8  `json:"battery"`
	Quality        uint8  `json:"quality"`
	ConfigChecksum uint16 `json:"config_checksum"`
}

func directions(dst func(*CurrentWeather) *[5]uint8) func(*CurrentWeather, []byte, *time.Location) {
	return func(c *CurrentWeather, n []byte, _ *time.Location) {
		d := dst(c)
		for i := range d {
			d[i] = n[len(n)-1-i]
		}
	}
}

var currentWeatherFields = concat(
	[]field[CurrentWeather]{
		right("Weather", 6, 1, 2, func(c *CurrentWeather, n []byte, _ *time.Location) {
			c.WeatherTendency = n[0]
			c.WeatherState = n[1]
		}),
	},
	minMaxFields("TempIndoor", 7, 3, 5, codec.Temperature, func(c *CurrentWeather) *MinMax { return &c.TempIndoor }),
	minMaxFields("TempOutdoor", 26, 3, 5, codec.Temperature, func(c *CurrentWeather) *MinMax { return &c.TempOutdoor }),
	minMaxFields("Windchill", 45, 3, 5, codec.Temperature, func(c *CurrentWeather) *MinMax { return &c.Windchill }),
	minMaxFields("Dewpoint", 64, 3, 5, codec.Temperature, func(c *CurrentWeather) *MinMax { return &c.Dewpoint }),
	minMaxFields("HumidityIndoor", 83, 1, 2, codec.Humidity, func(c *CurrentWeather) *MinMax { return &c.HumidityIndoor }),
	minMaxFields("HumidityOutdoor", 96, 1, 2, codec.Humidity, func(c *CurrentWeather) *MinMax { return &c.HumidityOutdoor }),
	peakFields("RainMonth", 109, 3, 6, codec.Rain, func(c *CurrentWeather) *Peak { return &c.RainMonth }),
	peakFields("RainWeek", 120, 3, 6, codec.Rain, func(c *CurrentWeather) *Peak { return &c.RainWeek }),
	peakFields("Rain24H", 131, 3, 6, codec.Rain, func(c *CurrentWeather) *Peak { return &c.Rain24H }),
	peakFields("Rain1H", 142, 3, 6, codec.Rain, func(c *CurrentWeather) *Peak { return &c.Rain1H }),
	[]field[CurrentWeather]{
		right("LastRainReset", 153, 5, 10, timestamp(func(c *CurrentWeather) **time.Time { return &c.LastRainReset })),
		right("RainTotal", 158, 4, 7, reading(codec.RainTotal, func(c *CurrentWeather) *codec.Reading { return &c.RainTotal })),
		right("WindDirection", 162, 3, 5, directions(func(c *CurrentWeather) *[5]uint8 { return &c.WindDirection })),
		right("GustDirection", 165, 3, 5, directions(func(c *CurrentWeather) *[5]uint8 { return &c.GustDirection })),
	},
	peakFields("WindSpeed", 168, 3, 6, codec.WindSpeed, func(c *CurrentWeather) *Peak { return &c.WindSpeed }),
	peakFields("Gust", 179, 3, 6, codec.WindSpeed, func(c *CurrentWeather) *Peak { return &c.Gust }),
	minMaxFields("Pressure", 190, 3, 5, codec.Pressure, func(c *CurrentWeather) *MinMax { return &c.Pressure }),
)

// DecodeCurrentWeather decodes a current weather frame. Timestamps are read in loc.
func DecodeCurrentWeather(buf []byte, loc *time.Location) (CurrentWeather, error) {
	var c CurrentWeather

	h, err := ParseHeader(buf)
	if err != nil {
		return c, err
	}
	if len(buf) != CurrentWeatherLength {
		return c, fmt.Errorf("%w: current weather frame with %d bytes", ErrMalformedFrame, len(buf))
	}

	if err := decodeFields(buf, currentWeatherFields, &c, loc); err != nil {
		return c, err
	}

	for _, m := range []*MinMax{&c.TempIndoor, &c.TempOutdoor, &c.Windchill, &c.Dewpoint, &c.HumidityIndoor, &c.HumidityOutdoor, &c.Pressure} {
		m.normalize()
	}
	for _, p := range []*Peak{&c.Rain1H, &c.Rain24H, &c.RainWeek, &c.RainMonth, &c.WindSpeed, &c.Gust} {
		p.normalize()
	}
	if !c.WindSpeed.Current.IsValid() {
		c.WindDirection[0] = DirectionAbsent
	}
	if !c.Gust.Current.IsValid() {
		c.GustDirection[0] = DirectionAbsent
	}

	c.Battery = h.Battery
	c.Quality = h.Quality
	c.ConfigChecksum = h.Checksum
	return c, nil
}
