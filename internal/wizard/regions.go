package wizard

// Region is an administrative region of Chile.
type Region struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Regions lists the regions offered on step 1, north to south.
var Regions = []Region{
	{"XV", "Arica y Parinacota"},
	{"I", "Tarapacá"},
	{"II", "Antofagasta"},
	{"III", "Atacama"},
	{"IV", "Coquimbo"},
	{"V", "Valparaíso"},
	{"RM", "Metropolitana de Santiago"},
	{"VI", "Libertador General Bernardo O'Higgins"},
	{"VII", "Maule"},
	{"XVI", "Ñuble"},
	{"VIII", "Biobío"},
	{"IX", "La Araucanía"},
	{"XIV", "Los Ríos"},
	{"X", "Los Lagos"},
	{"XI", "Aysén del General Carlos Ibáñez del Campo"},
	{"XII", "Magallanes y de la Antártica Chilena"},
}
