// Package exifwrite stamps vendor asset metadata into exported JPEGs:
// capture timestamps, the owning user as artist, and a GPS block resolved
// from the asset's place name. The backend strips EXIF on ingest, so exports
// rebuild it from what the API still knows.
package exifwrite

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"

	"github.com/striglia/auraframes/internal/geocode"
	"github.com/striglia/auraframes/internal/models"
	"github.com/striglia/auraframes/internal/timeutil"
)

const (
	exifTimeLayout = "2006:01:02 15:04:05"
	// The mobile apps hardcode an eastern offset regardless of where the
	// photo was taken.
	offsetTime = "-05:00"
)

// Resolver turns a place name into coordinates. A nil location with a nil
// error means the place is unknown.
type Resolver interface {
	Lookup(ctx context.Context, place string) (*geocode.Location, error)
}

var _ Resolver = (*geocode.Client)(nil)

// Writer embeds asset metadata into images.
type Writer struct {
	resolver Resolver
	logger   *slog.Logger
}

type Option func(*Writer)

// WithResolver enables GPS embedding from asset place names.
func WithResolver(resolver Resolver) Option {
	return func(w *Writer) {
		w.resolver = resolver
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func New(opts ...Option) *Writer {
	writer := &Writer{logger: slog.Default()}
	for _, opt := range opts {
		opt(writer)
	}
	return writer
}

// Embed returns a copy of the JPEG with the asset's metadata written into
// its EXIF block. A failed or empty geocode lookup drops only the GPS tags;
// malformed input images and encode failures are returned as errors so the
// caller can fall back to the original bytes.
func (w *Writer) Embed(ctx context.Context, image []byte, asset models.Asset) ([]byte, error) {
	parser := jpegstructure.NewJpegMediaParser()
	intfc, err := parser.ParseBytes(image)
	if err != nil {
		return nil, fmt.Errorf("exifwrite: parse jpeg: %w", err)
	}
	segments := intfc.(*jpegstructure.SegmentList)

	rootIb, err := segments.ConstructExifBuilder()
	if err != nil {
		im := exifcommon.NewIfdMapping()
		if err := exifcommon.LoadStandardIfds(im); err != nil {
			return nil, fmt.Errorf("exifwrite: load ifd mapping: %w", err)
		}
		ti := exif.NewTagIndex()
		rootIb = exif.NewIfdBuilder(im, ti, exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)
	}

	if err := w.setTimeTags(rootIb, asset); err != nil {
		return nil, err
	}
	if artist := asset.ArtistName(); artist != "" {
		if err := rootIb.SetStandardWithName("Artist", artist); err != nil {
			return nil, fmt.Errorf("exifwrite: set artist: %w", err)
		}
	}
	if err := w.setGPSTags(ctx, rootIb, asset); err != nil {
		return nil, err
	}

	if err := segments.SetExif(rootIb); err != nil {
		return nil, fmt.Errorf("exifwrite: rebuild exif segment: %w", err)
	}
	var out bytes.Buffer
	if err := segments.Write(&out); err != nil {
		return nil, fmt.Errorf("exifwrite: encode jpeg: %w", err)
	}
	return out.Bytes(), nil
}

func (w *Writer) setTimeTags(rootIb *exif.IfdBuilder, asset models.Asset) error {
	if asset.TakenAt == "" {
		return nil
	}
	taken, err := timeutil.Parse(asset.TakenAt)
	if err != nil {
		w.logger.Warn("asset taken_at unparseable, skipping time tags", "asset_id", asset.ID, "taken_at", asset.TakenAt)
		return nil
	}
	stamp := taken.Format(exifTimeLayout)

	if err := rootIb.SetStandardWithName("DateTime", stamp); err != nil {
		return fmt.Errorf("exifwrite: set datetime: %w", err)
	}
	exifIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/Exif")
	if err != nil {
		return fmt.Errorf("exifwrite: exif ifd: %w", err)
	}
	tags := []struct {
		name  string
		value string
	}{
		{"DateTimeOriginal", stamp},
		{"DateTimeDigitized", stamp},
		{"OffsetTime", offsetTime},
		{"OffsetTimeOriginal", offsetTime},
	}
	for _, tag := range tags {
		if err := exifIb.SetStandardWithName(tag.name, tag.value); err != nil {
			return fmt.Errorf("exifwrite: set %s: %w", tag.name, err)
		}
	}
	return nil
}

func (w *Writer) setGPSTags(ctx context.Context, rootIb *exif.IfdBuilder, asset models.Asset) error {
	if asset.LocationName == "" || w.resolver == nil {
		return nil
	}
	location, err := w.resolver.Lookup(ctx, asset.LocationName)
	if err != nil {
		w.logger.Warn("geocode failed, skipping gps tags", "asset_id", asset.ID, "place", asset.LocationName, "error", err)
		return nil
	}
	if location == nil {
		return nil
	}

	lat := ToDMS(location.Latitude, false)
	lon := ToDMS(location.Longitude, true)

	gpsIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/GPSInfo")
	if err != nil {
		return fmt.Errorf("exifwrite: gps ifd: %w", err)
	}
	set := func(name string, value interface{}) {
		if err == nil {
			if setErr := gpsIb.SetStandardWithName(name, value); setErr != nil {
				err = fmt.Errorf("exifwrite: set %s: %w", name, setErr)
			}
		}
	}
	set("GPSVersionID", []byte{2, 3, 0, 0})
	set("GPSLatitudeRef", lat.Ref)
	set("GPSLatitude", lat.Rationals())
	set("GPSLongitudeRef", lon.Ref)
	set("GPSLongitude", lon.Rationals())
	set("GPSAltitudeRef", []byte{0})
	set("GPSAltitude", []exifcommon.Rational{{Numerator: 0, Denominator: 1}})
	set("GPSStatus", "A")
	return err
}

// DMS is one coordinate split into degrees, minutes, seconds and a
// hemisphere letter.
type DMS struct {
	Degrees int
	Minutes int
	Seconds float64
	Ref     string
}

// ToDMS converts a decimal coordinate. Seconds are rounded to five decimal
// places, matching what the vendor apps embed.
func ToDMS(value float64, longitude bool) DMS {
	refs := [2]string{"S", "N"}
	if longitude {
		refs = [2]string{"W", "E"}
	}
	ref := ""
	switch {
	case value < 0:
		ref = refs[0]
	case value > 0:
		ref = refs[1]
	}

	abs := math.Abs(value)
	degrees := int(abs)
	t1 := (abs - float64(degrees)) * 60
	minutes := int(t1)
	seconds := math.Round((t1-float64(minutes))*60*1e5) / 1e5
	return DMS{Degrees: degrees, Minutes: minutes, Seconds: seconds, Ref: ref}
}

// Rationals renders the coordinate as the three EXIF rationals. Seconds keep
// their five-decimal precision as an exact fraction.
func (d DMS) Rationals() []exifcommon.Rational {
	return []exifcommon.Rational{
		{Numerator: uint32(d.Degrees), Denominator: 1},
		{Numerator: uint32(d.Minutes), Denominator: 1},
		secondsRational(d.Seconds),
	}
}

func secondsRational(seconds float64) exifcommon.Rational {
	num := uint32(math.Round(seconds * 1e5))
	den := uint32(100000)
	g := gcd(num, den)
	return exifcommon.Rational{Numerator: num / g, Denominator: den / g}
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
