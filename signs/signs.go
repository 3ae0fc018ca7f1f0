// Package signs is the catalogue of traffic sign categories a classifier can report, with the
// safety message shown for each.
package signs

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Category is one traffic sign class. The zero value is Unknown.
type Category int

// The categories follow the class order of the German Traffic Sign Recognition Benchmark, so
// ClassID maps a category back to a model output index.
const (
	Unknown Category = iota
	SpeedLimit20
	SpeedLimit30
	SpeedLimit50
	SpeedLimit60
	SpeedLimit70
	SpeedLimit80
	EndOfSpeedLimit80
	SpeedLimit100
	SpeedLimit120
	NoPassing
	NoPassingHeavyVehicles
	RightOfWayAtNextIntersection
	PriorityRoad
	Yield
	Stop
	NoVehicles
	HeavyVehiclesProhibited
	NoEntry
	GeneralCaution
	DangerousCurveLeft
	DangerousCurveRight
	DoubleCurve
	BumpyRoad
	SlipperyRoad
	RoadNarrowsOnRight
	RoadWork
	TrafficSignals
	Pedestrians
	ChildrenCrossing
	BicyclesCrossing
	BewareOfIceSnow
	WildAnimalsCrossing
	EndOfAllLimits
	TurnRightAhead
	TurnLeftAhead
	AheadOnly
	GoStraightOrRight
	GoStraightOrLeft
	KeepRight
	KeepLeft
	RoundaboutMandatory
	EndOfNoPassing
	EndOfNoPassingHeavyVehicles

	numCategories
)

// ErrUnknownLabel is returned by Parse for labels outside the catalogue.
var ErrUnknownLabel = errors.New("unrecognized sign label")

// Metadata is the safety message attached to a category.
type Metadata struct {
	Title string
	Body  string
	// ImageRef is the path of the category's reference picture, relative to the asset root.
	ImageRef string
}

// AppIcon is the icon shown with every notification and used for signs without a picture.
const AppIcon = "icons/icon-192.png"

// DefaultMetadata is used for labels the catalogue does not know.
var DefaultMetadata = Metadata{
	Title: "Traffic Sign Detected",
	Body:  "Please verify the sign visually while driving.",
}

type entry struct {
	label string
	Metadata
}

var catalogue = [numCategories]entry{
	Unknown:                      {"Unknown", Metadata{"❓ Unknown Sign", "Confidence is too low (<60%). Please rescan or move closer.", AppIcon}},
	SpeedLimit20:                 {"Speed limit (20km/h)", Metadata{"Speed Zone: 20km/h", "⚠️ Slow down. Strictly maintain 20 km/h or less.", "images/reference/speed_20.jpg"}},
	SpeedLimit30:                 {"Speed limit (30km/h)", Metadata{"Speed Zone: 30km/h", "Drive carefully. Limit is 30 km/h.", "images/reference/speed_30.jpg"}},
	SpeedLimit50:                 {"Speed limit (50km/h)", Metadata{"Speed Zone: 50km/h", "Standard urban limit. Watch for cross traffic.", "images/reference/speed_50.jpg"}},
	SpeedLimit60:                 {"Speed limit (60km/h)", Metadata{"Speed Zone: 60km/h", "Maintain 60 km/h max. Check speedometer.", "images/reference/speed_60.jpg"}},
	SpeedLimit70:                 {"Speed limit (70km/h)", Metadata{"Speed Zone: 70km/h", "Limit is 70 km/h. Watch for merging traffic.", "images/reference/speed_70.jpg"}},
	SpeedLimit80:                 {"Speed limit (80km/h)", Metadata{"Speed Zone: 80km/h", "Limit is 80 km/h. Maintain safe following distance.", "images/reference/speed_80.jpg"}},
	EndOfSpeedLimit80:            {"End of speed limit (80km/h)", Metadata{"End of 80km/h Zone", "Speed limit has changed. Adjust speed accordingly.", "images/reference/end_speed_80.jpg"}},
	SpeedLimit100:                {"Speed limit (100km/h)", Metadata{"Speed Zone: 100km/h", "Highway speed. Keep right unless passing.", "images/reference/speed_100.jpg"}},
	SpeedLimit120:                {"Speed limit (120km/h)", Metadata{"Speed Zone: 120km/h", "High speed zone. Maintain focus and safe distance.", "images/reference/speed_120.jpg"}},
	NoPassing:                    {"No passing", Metadata{"⛔ No Passing", "Do not overtake other vehicles in this zone.", "images/reference/no_passing.jpg"}},
	NoPassingHeavyVehicles:       {"No passing for vehicles over 3.5 metric tons", Metadata{"⛔ No Heavy Truck Passing", "Heavy vehicles strictly prohibited from overtaking.", "images/reference/no_passing_3.5.jpg"}},
	RightOfWayAtNextIntersection: {"Right-of-way at the next intersection", Metadata{"Priority Intersection", "You have the right-of-way at the upcoming junction.", "images/reference/right_to_way.jpg"}},
	PriorityRoad:                 {"Priority road", Metadata{"Priority Road", "You have right-of-way on this road.", "images/reference/priority_road.jpg"}},
	Yield:                        {"Yield", Metadata{"⚠️ YIELD Ahead", "Slow down. Prepare to stop for other traffic.", "images/reference/yield.jpg"}},
	Stop:                         {"Stop", Metadata{"🛑 STOP Sign Detected", "FULL STOP required. Check left, right, then left again.", "images/reference/stop.jpg"}},
	NoVehicles:                   {"No vehicles", Metadata{"⛔ Road Closed to Vehicles", "No vehicles allowed beyond this point.", "images/reference/no_vehicles.jpg"}},
	HeavyVehiclesProhibited:      {"Vehicles over 3.5 metric tons prohibited", Metadata{"⛔ No Heavy Trucks", "Weight limit in effect. Heavy trucks not allowed.", "images/reference/vehicles_3.5_prohibited.jpg"}},
	NoEntry:                      {"No entry", Metadata{"⛔ NO ENTRY", "Wrong way! Do not enter this road.", "images/reference/no_entry.jpg"}},
	GeneralCaution:               {"General caution", Metadata{"⚠️ General Caution", "Hazard ahead. Drive with extra care.", "images/reference/general_caution.jpg"}},
	DangerousCurveLeft:           {"Dangerous curve to the left", Metadata{"↩️ Sharp Left Curve", "Slow down before the bend.", "images/reference/dang_left.jpg"}},
	DangerousCurveRight:          {"Dangerous curve to the right", Metadata{"↪️ Sharp Right Curve", "Slow down before the bend.", "images/reference/dang_right.jpg"}},
	DoubleCurve:                  {"Double curve", Metadata{"⚠️ Double Curve", "Winding road ahead. Reduce speed.", "images/reference/double_curve.jpg"}},
	BumpyRoad:                    {"Bumpy road", Metadata{"⚠️ Bumpy Road", "Uneven surface. Slow down to avoid damage.", "images/reference/Bumpy road.jpg"}},
	SlipperyRoad:                 {"Slippery road", Metadata{"❄️ Slippery Surface", "Risk of skidding. Avoid sudden braking or steering.", "images/reference/slip_road.jpg"}},
	RoadNarrowsOnRight:           {"Road narrows on the right", Metadata{"⚠️ Road Narrows", "Merge left safely. Lane ends.", "images/reference/road_narrow_right.jpg"}},
	RoadWork:                     {"Road work", Metadata{"🚧 Road Work Ahead", "Watch for workers and equipment. Reduce speed.", "images/reference/road_work.jpg"}},
	TrafficSignals:               {"Traffic signals", Metadata{"🚦 Traffic Signals", "Be prepared to stop at lights ahead.", "images/reference/traffic_lights.jpg"}},
	Pedestrians:                  {"Pedestrians", Metadata{"🚶 Pedestrians Crossing", "Yield to people crossing the street.", "images/reference/pedestrian.jpg"}},
	ChildrenCrossing:             {"Children crossing", Metadata{"🚸 School Zone / Children", "CAUTION: Children nearby. Drive very slowly.", "images/reference/child_crossing.jpg"}},
	BicyclesCrossing:             {"Bicycles crossing", Metadata{"🚲 Cycle Crossing", "Watch for cyclists crossing the road.", "images/reference/bicycle_crossing.jpg"}},
	BewareOfIceSnow:              {"Beware of ice/snow", Metadata{"❄️ Ice / Snow Warning", "Road may be frozen. drive with extreme caution.", "images/reference/beaware_ice.jpg"}},
	WildAnimalsCrossing:          {"Wild animals crossing", Metadata{"🦌 Wildlife Crossing", "Watch for deer or other animals on road.", "images/reference/wild_animals.jpg"}},
	EndOfAllLimits:               {"End of all speed and passing limits", Metadata{"✅ Restrictions End", "Standard traffic rules apply. Drive safely.", "images/reference/end_limit.jpg"}},
	TurnRightAhead:               {"Turn right ahead", Metadata{"➡️ Turn Right", "Prepare to turn right.", "images/reference/turn_right.jpg"}},
	TurnLeftAhead:                {"Turn left ahead", Metadata{"⬅️ Turn Left", "Prepare to turn left.", "images/reference/turn_left.jpg"}},
	AheadOnly:                    {"Ahead only", Metadata{"⬆️ Straight Only", "Do not turn. Continue straight.", "images/reference/ahead_only.jpg"}},
	GoStraightOrRight:            {"Go straight or right", Metadata{"⬆️➡️ Straight or Right", "Allowed directions: Straight or Right.", "images/reference/straight_or_right.jpg"}},
	GoStraightOrLeft:             {"Go straight or left", Metadata{"⬆️⬅️ Straight or Left", "Allowed directions: Straight or Left.", "images/reference/straight_or_left.jpg"}},
	KeepRight:                    {"Keep right", Metadata{"↘️ Keep Right", "Pass obstacle on the right side.", "images/reference/keep_right.jpg"}},
	KeepLeft:                     {"Keep left", Metadata{"↙️ Keep Left", "Pass obstacle on the left side.", "images/reference/keep_left.jpg"}},
	RoundaboutMandatory:          {"Roundabout mandatory", Metadata{"🔄 Roundabout", "Yield to traffic in circle. Enter counter-clockwise.", "images/reference/round_madetory.jpg"}},
	EndOfNoPassing:               {"End of no passing", Metadata{"✅ Passing Allowed", "You may overtake when safe to do so.", "images/reference/end_passing.jpg"}},
	EndOfNoPassingHeavyVehicles:  {"End of no passing by vehicles over 3.5 metric tons", Metadata{"✅ Truck Passing Allowed", "Heavy vehicles may overtake when safe.", "images/reference/end_passing_3.5.jpg"}},
}

var byLabel = lo.SliceToMap(lo.Range(int(numCategories)), func(i int) (string, Category) {
	return catalogue[i].label, Category(i)
})

// Parse returns the category of a classifier label. Matching ignores surrounding space but is
// otherwise exact. Unrecognized labels return Unknown and ErrUnknownLabel.
func Parse(label string) (Category, error) {
	c, ok := byLabel[strings.TrimSpace(label)]
	if !ok {
		return Unknown, errors.Wrapf(ErrUnknownLabel, "%q", label)
	}
	return c, nil
}

// String returns the classifier label of the category.
func (c Category) String() string {
	if !c.Valid() {
		return catalogue[Unknown].label
	}
	return catalogue[c].label
}

// Valid reports whether c is part of the catalogue.
func (c Category) Valid() bool {
	return c >= Unknown && c < numCategories
}

// ClassID returns the model output index of the category, or -1 for Unknown.
func (c Category) ClassID() int {
	if c == Unknown || !c.Valid() {
		return -1
	}
	return int(c) - 1
}

// FromClassID is the inverse of ClassID.
func FromClassID(id int) (Category, bool) {
	c := Category(id + 1)
	if c == Unknown || !c.Valid() {
		return Unknown, false
	}
	return c, true
}

// Metadata returns the category's safety message.
func (c Category) Metadata() Metadata {
	if !c.Valid() {
		return catalogue[Unknown].Metadata
	}
	return catalogue[c].Metadata
}

// MetadataFor looks up the safety message of a label, falling back to DefaultMetadata.
func MetadataFor(label string) Metadata {
	c, err := Parse(label)
	if err != nil {
		return DefaultMetadata
	}
	return c.Metadata()
}

// All returns every sign category in class order, without Unknown.
func All() []Category {
	return lo.Map(lo.Range(int(numCategories)-1), func(i, _ int) Category {
		return Category(i + 1)
	})
}

// Labels returns the classifier labels of every sign category in class order. It is the label
// list of a model trained on the benchmark.
func Labels() []string {
	return lo.Map(All(), func(c Category, _ int) string {
		return c.String()
	})
}
