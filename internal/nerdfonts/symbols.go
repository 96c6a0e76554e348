package nerdfonts

// GitHub and activity symbols
const (
	GitHub       = "\uF09B" // 
	GitHubAlt    = "\uF113" // 
	CodeFork     = "\uF126" // 
	Fire         = "\uF06D" // 
	Calendar     = "\uF073" // 
	CalendarWeek = "\uF784" // 
)

// Status and notification symbols
const (
	InfoCircle          = "\uF05A" // 
	CheckCircle         = "\uF058" // 
	ExclamationTriangle = "\uF071" // 
	Lock                = "\uF023" // 
	Sync                = "\uF021" // 
	Clock               = "\uF017" // 
	Key                 = "\uF084" // 
)

// HeatmapCells renders contribution levels 0..4 in tooltips
var HeatmapCells = [5]string{"·", "░", "▒", "▓", "█"}

// HeatmapCell returns the glyph for level, clamped to the valid range
func HeatmapCell(level int) string {
	if level < 0 {
		level = 0
	}
	if level >= len(HeatmapCells) {
		level = len(HeatmapCells) - 1
	}
	return HeatmapCells[level]
}
