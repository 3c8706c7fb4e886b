package models

import (
	"errors"
	"time"

	"github.com/striglia/auraframes/internal/timeutil"
)

var errEmptyAssetRef = errors.New("models: asset reference needs an id or a local identifier")

// User mirrors the vendor account record returned by login and embedded in
// frame and asset payloads. AuthToken is only populated on the login response.
type User struct {
	ID                string `json:"id"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	ShortID           string `json:"short_id,omitempty"`
	ShowPushPrompt    bool   `json:"show_push_prompt"`
	LatestAppVersion  string `json:"latest_app_version,omitempty"`
	AttributionID     string `json:"attribution_id,omitempty"`
	AttributionString string `json:"attribution_string,omitempty"`
	TestAccount       bool   `json:"test_account"`
	AvatarFileName    string `json:"avatar_file_name,omitempty"`
	HasFrame          bool   `json:"has_frame"`
	AnalyticsOptout   bool   `json:"analytics_optout"`
	AdminAccount      bool   `json:"admin_account"`
	AuthToken         string `json:"auth_token,omitempty"`
}

// Frame feature flags observed in the wild.
const (
	FeatureSkipVideoPreload = "skip_video_preload"
	FeatureUDPCommands      = "udp_commands"
	FeatureMQTTEnabled      = "mqtt_enabled"
)

// Frame mirrors the vendor photo-frame device record. The schema is defined by
// the backend and reproduced here field for field; ClientQueueURL carries the
// per-frame queue polled for upload confirmations.
type Frame struct {
	ID                         string           `json:"id"`
	Name                       string           `json:"name"`
	UserID                     string           `json:"user_id"`
	SoftwareVersion            string           `json:"software_version"`
	BuildVersion               string           `json:"build_version"`
	HwAndroidVersion           string           `json:"hw_android_version"`
	CreatedAt                  string           `json:"created_at"`
	UpdatedAt                  string           `json:"updated_at"`
	HandledAt                  string           `json:"handled_at"`
	DeletedAt                  string           `json:"deleted_at,omitempty"`
	UpdatedAtOnClient          string           `json:"updated_at_on_client,omitempty"`
	Orientation                int              `json:"orientation"`
	AutoBrightness             bool             `json:"auto_brightness"`
	MinBrightness              int              `json:"min_brightness"`
	MaxBrightness              int              `json:"max_brightness"`
	Brightness                 int              `json:"brightness"`
	SenseMotion                bool             `json:"sense_motion"`
	DefaultSpeed               string           `json:"default_speed,omitempty"`
	SlideshowInterval          int              `json:"slideshow_interval"`
	SlideshowAuto              bool             `json:"slideshow_auto"`
	Digits                     int              `json:"digits"`
	Contributors               []User           `json:"contributors,omitempty"`
	ContributorTokens          []map[string]any `json:"contributor_tokens"`
	HwSerial                   string           `json:"hw_serial"`
	MattingColor               string           `json:"matting_color"`
	TrimColor                  string           `json:"trim_color"`
	IsHandling                 bool             `json:"is_handling"`
	CalibrationsLastModifiedAt string           `json:"calibrations_last_modified_at"`
	GesturesOn                 bool             `json:"gestures_on"`
	PortraitPairingOff         bool             `json:"portrait_pairing_off,omitempty"`
	LivePhotosOn               bool             `json:"live_photos_on"`
	AutoProcessedPlaylistIDs   []any            `json:"auto_processed_playlist_ids"`
	TimeZone                   string           `json:"time_zone"`
	WifiNetwork                string           `json:"wifi_network"`
	ColdBootAt                 string           `json:"cold_boot_at,omitempty"`
	IsCharityWaterFrame        bool             `json:"is_charity_water_frame"`
	NumAssets                  int              `json:"num_assets"`
	ThanksOn                   bool             `json:"thanks_on"`
	FrameQueueURL              string           `json:"frame_queue_url,omitempty"`
	ClientQueueURL             string           `json:"client_queue_url"`
	ScheduledDisplaySleep      bool             `json:"scheduled_display_sleep"`
	ScheduledDisplayOnAt       string           `json:"scheduled_display_on_at,omitempty"`
	ScheduledDisplayOffAt      string           `json:"scheduled_display_off_at,omitempty"`
	ForcedWifiState            string           `json:"forced_wifi_state,omitempty"`
	ForcedWifiRecipientEmail   string           `json:"forced_wifi_recipient_email,omitempty"`
	IsAnalogFrame              bool             `json:"is_analog_frame"`
	ControlType                string           `json:"control_type"`
	DisplayAspectRatio         string           `json:"display_aspect_ratio"`
	HasClaimableGift           bool             `json:"has_claimable_gift,omitempty"`
	GiftBillingHint            string           `json:"gift_billing_hint,omitempty"`
	Locale                     string           `json:"locale"`
	FrameType                  *int             `json:"frame_type"`
	Description                string           `json:"description,omitempty"`
	RepresentativeAssetID      string           `json:"representative_asset_id,omitempty"`
	SortMode                   string           `json:"sort_mode,omitempty"`
	EmailAddress               string           `json:"email_address"`
	Features                   []string         `json:"features,omitempty"`
	LetterboxStyle             string           `json:"letterbox_style,omitempty"`
	User                       User             `json:"user"`
	Playlists                  []map[string]any `json:"playlists"`
	DeliveredFrameGift         map[string]any   `json:"delivered_frame_gift,omitempty"`
	LastFeedItem               map[string]any   `json:"last_feed_item"`
	LastImpression             map[string]any   `json:"last_impression,omitempty"`
	LastImpressionAt           string           `json:"last_impression_at"`
	ChildAlbums                []any            `json:"child_albums"`
	SmartAdds                  []any            `json:"smart_adds"`
	RecentAssets               []any            `json:"recent_assets"`
}

// IsPortrait reports whether the frame is mounted in a portrait orientation.
// The backend encodes orientation as 1/4 for landscape and 2/3 for portrait.
func (f Frame) IsPortrait() bool {
	return f.Orientation == 2 || f.Orientation == 3
}

// TypeLabel returns the frame type label, defaulting to "normal" when the
// backend sends a null frame_type.
func (f Frame) TypeLabel() string {
	if f.FrameType == nil {
		return "normal"
	}
	switch *f.FrameType {
	case 1:
		return "carver"
	case 2:
		return "mason"
	default:
		return "normal"
	}
}

// HasFeature reports whether the frame advertises the named feature flag.
func (f Frame) HasFeature(name string) bool {
	for _, feature := range f.Features {
		if feature == name {
			return true
		}
	}
	return false
}

// AssetPadding describes the letterbox padding applied to a rendered crop.
type AssetPadding struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// AssetSetting records the per-frame display state of an asset.
type AssetSetting struct {
	ID                string `json:"id"`
	AddedByID         string `json:"added_by_id"`
	AssetID           string `json:"asset_id"`
	FrameID           string `json:"frame_id"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	UpdatedSelectedAt string `json:"updated_selected_at"`
	LastImpressionAt  string `json:"last_impression_at"`
	Hidden            bool   `json:"hidden"`
	Selected          bool   `json:"selected"`
	Reason            string `json:"reason"`
}

// Asset mirrors the vendor's image record. It is created client side as a
// draft identified only by LocalIdentifier, then echoed back with the server's
// fields filled in as the upload sequence progresses. Status is tracked by
// this client and is not part of the wire schema.
type Asset struct {
	ID                       string        `json:"id,omitempty"`
	LocalIdentifier          string        `json:"local_identifier"`
	UserID                   string        `json:"user_id,omitempty"`
	User                     *User         `json:"user,omitempty"`
	Status                   AssetStatus   `json:"status,omitempty"`
	FileName                 string        `json:"file_name,omitempty"`
	OriginalFileName         string        `json:"original_file_name,omitempty"`
	ColorizedFileName        string        `json:"colorized_file_name,omitempty"`
	RawFileName              string        `json:"raw_file_name,omitempty"`
	VideoFileName            string        `json:"video_file_name,omitempty"`
	MD5Hash                  string        `json:"md5_hash,omitempty"`
	DataUTI                  string        `json:"data_uti,omitempty"`
	TakenAt                  string        `json:"taken_at,omitempty"`
	TakenAtGranularity       any           `json:"taken_at_granularity,omitempty"`
	TakenAtUserOverrideAt    string        `json:"taken_at_user_override_at,omitempty"`
	CreatedAtOnClient        string        `json:"created_at_on_client,omitempty"`
	ModifiedAt               string        `json:"modified_at,omitempty"`
	UploadedAt               string        `json:"uploaded_at,omitempty"`
	HandledAt                string        `json:"handled_at,omitempty"`
	GlacieredAt              string        `json:"glaciered_at,omitempty"`
	Width                    int           `json:"width,omitempty"`
	Height                   int           `json:"height,omitempty"`
	Orientation              int           `json:"orientation,omitempty"`
	ExifOrientation          int           `json:"exif_orientation,omitempty"`
	RotationCW               int           `json:"rotation_cw"`
	Location                 []float64     `json:"location,omitempty"`
	LocationName             string        `json:"location_name,omitempty"`
	HorizontalAccuracy       float64       `json:"horizontal_accuracy,omitempty"`
	Favorite                 bool          `json:"favorite,omitempty"`
	Selected                 bool          `json:"selected"`
	GoodResolution           bool          `json:"good_resolution"`
	Panorama                 bool          `json:"panorama,omitempty"`
	HDR                      bool          `json:"hdr,omitempty"`
	IsLive                   bool          `json:"is_live,omitempty"`
	LivePhotoOff             bool          `json:"live_photo_off,omitempty"`
	IsSubscription           bool          `json:"is_subscription"`
	Unglacierable            bool          `json:"unglacierable"`
	UploadPriority           int           `json:"upload_priority"`
	SourceID                 string        `json:"source_id,omitempty"`
	DuplicateOfID            string        `json:"duplicate_of_id,omitempty"`
	BurstID                  any           `json:"burst_id,omitempty"`
	BurstSelectionTypes      any           `json:"burst_selection_types,omitempty"`
	RepresentsBurst          any           `json:"represents_burst,omitempty"`
	IosMediaSubtypes         int           `json:"ios_media_subtypes,omitempty"`
	Duration                 float64       `json:"duration,omitempty"`
	DurationUnclipped        float64       `json:"duration_unclipped,omitempty"`
	VideoClipStart           any           `json:"video_clip_start,omitempty"`
	VideoClipExcludesAudio   bool          `json:"video_clip_excludes_audio,omitempty"`
	VideoClippedByUserAt     string        `json:"video_clipped_by_user_at,omitempty"`
	LandscapeRect            string        `json:"landscape_rect,omitempty"`
	PortraitRect             string        `json:"portrait_rect,omitempty"`
	AutoLandscape1610Rect    string        `json:"auto_landscape_16_10_rect,omitempty"`
	AutoPortrait45Rect       string        `json:"auto_portrait_4_5_rect,omitempty"`
	UserLandscapeRect        string        `json:"user_landscape_rect,omitempty"`
	UserPortraitRect         string        `json:"user_portrait_rect,omitempty"`
	UserLandscape1610Rect    string        `json:"user_landscape_16_10_rect,omitempty"`
	UserPortrait45Rect       string        `json:"user_portrait_4_5_rect,omitempty"`
	LandscapeURL             string        `json:"landscape_url,omitempty"`
	LandscapeURLPadding      *AssetPadding `json:"landscape_url_padding,omitempty"`
	Landscape1610URL         string        `json:"landscape_16_10_url,omitempty"`
	Landscape1610URLPadding  *AssetPadding `json:"landscape_16_10_url_padding,omitempty"`
	PortraitURL              string        `json:"portrait_url,omitempty"`
	PortraitURLPadding       *AssetPadding `json:"portrait_url_padding,omitempty"`
	Portrait45URL            string        `json:"portrait_4_5_url,omitempty"`
	Portrait45URLPadding     *AssetPadding `json:"portrait_4_5_url_padding,omitempty"`
	MinibarURL               string        `json:"minibar_url,omitempty"`
	MinibarLandscapeURL      string        `json:"minibar_landscape_url,omitempty"`
	MinibarPortraitURL       string        `json:"minibar_portrait_url,omitempty"`
	ThumbnailURL             string        `json:"thumbnail_url,omitempty"`
	VideoURL                 string        `json:"video_url,omitempty"`
	WidgetURL                string        `json:"widget_url,omitempty"`
}

// TakenAtTime parses the asset's capture timestamp.
func (a Asset) TakenAtTime() (time.Time, error) {
	return timeutil.Parse(a.TakenAt)
}

// IsLocal reports whether the asset only exists client side, before the
// backend has issued an id for it.
func (a Asset) IsLocal() bool {
	return a.ID == ""
}

// IsVideo reports whether the asset carries a video payload.
func (a Asset) IsVideo() bool {
	return a.VideoFileName != "" || a.VideoURL != ""
}

// ArtistName returns the display name of the owning user when known.
func (a Asset) ArtistName() string {
	if a.User == nil {
		return ""
	}
	return a.User.Name
}

// PartialID reduces the asset to the reference form used by endpoints that
// accept either id.
func (a Asset) PartialID() AssetPartialID {
	return AssetPartialID{ID: a.ID, LocalIdentifier: a.LocalIdentifier, UserID: a.UserID}
}

// AssetPartialID references an asset either by its server id or, before one
// exists, by the client-generated local identifier. Exactly the reference the
// select-asset endpoint expects.
type AssetPartialID struct {
	ID              string `json:"id,omitempty"`
	LocalIdentifier string `json:"local_identifier,omitempty"`
	UserID          string `json:"user_id,omitempty"`
}

// Validate reports an error unless at least one of the id forms is set.
func (r AssetPartialID) Validate() error {
	if r.ID == "" && r.LocalIdentifier == "" {
		return errEmptyAssetRef
	}
	return nil
}

// RequestForm renders the reference the way the select-asset endpoint wants
// it: the server id wins over the local identifier when both are present. The
// device apps never send user_id here, so neither do we.
func (r AssetPartialID) RequestForm() map[string]string {
	if r.ID != "" {
		return map[string]string{"asset_id": r.ID}
	}
	return map[string]string{"asset_local_identifier": r.LocalIdentifier}
}
