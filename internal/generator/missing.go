package generator

import "orefalert/internal/metadata"

// missingCities covers the alert areas the tzevaadom dataset lacks.
// Maintained by hand; buildAreaInfo raises a data error once an entry shows
// up upstream so it can be dropped from here.
var missingCities = map[string]metadata.Info{
	"ברחבי הארץ":     {En: "Across the country", Lat: 31.7781, Long: 35.2164},
	"גני מודיעין":    {En: "Ganei Modi'in", Lat: 31.9304, Long: 35.0177},
	"מלאה":           {En: "Mle'a", Lat: 32.5629, Long: 35.2366},
	"כל הארץ":        {En: "Entire country", Lat: 31.7781, Long: 35.2164},
	"כרם בן שמן":     {En: "Kerem Ben Shemen", Lat: 31.9585, Long: 34.9340},
	"ניר יפה":        {En: "Nir Yafeh", Lat: 32.5698, Long: 35.2448},
	"נאות חובב":      {En: "Ne'ot Hovav", Lat: 31.1336, Long: 34.7898},
	"גדיש":           {En: "Gadish", Lat: 32.5588, Long: 35.2444},
	"רמת רחל":        {En: "Ramat Rachel", Lat: 31.7395, Long: 35.2178},
	"בסמ\"ה":         {En: "Basma", Lat: 32.5307, Long: 35.1025},
	"מרכז אומן":      {En: "Merkaz Omen", Lat: 32.5638, Long: 35.2425},
	"עין חרוד איחוד": {En: "Ein Harod", Lat: 32.5631, Long: 35.3917},
	"אל-ח'וואלד מערב": {En: "Al Khawaled - West", Lat: 32.7710, Long: 35.1363},
	"אשדוד -יא,יב,טו,יז,מרינה,סיטי": {En: "Ashdod - Yod Alef,Yod Bet,Tet Vav,Yod Zain,Marina,City", Lat: 31.7836, Long: 34.6332},
	"אזור תעשייה מילואות צפון":      {En: "North Miluot Industrial Zone", Lat: 33.0684, Long: 35.1102},
}
