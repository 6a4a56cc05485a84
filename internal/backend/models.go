package backend

// Image is a place's picture.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// Place is a destination users can save.
type Place struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Image Image   `json:"image"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// User is a searchable account.
type User struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// DefaultPlaces returns the places the backend starts with.
func DefaultPlaces() []Place {
	return []Place{
		{ID: "p1", Title: "Forest Waterfall", Image: Image{Src: "forest-waterfall.jpg", Alt: "A tranquil forest with a cascading waterfall"}, Lat: 44.5588, Lon: -80.344},
		{ID: "p2", Title: "Sahara Desert Dunes", Image: Image{Src: "desert-dunes.jpg", Alt: "Golden sand dunes under a clear blue sky"}, Lat: 25.0, Lon: 0.0},
		{ID: "p3", Title: "Himalayan Peaks", Image: Image{Src: "majestic-mountains.jpg", Alt: "Snow-capped peaks of the Himalayas"}, Lat: 27.9881, Lon: 86.925},
		{ID: "p4", Title: "Caribbean Beach", Image: Image{Src: "caribbean-beach.jpg", Alt: "White sandy beach with turquoise water"}, Lat: 18.2208, Lon: -66.5901},
		{ID: "p5", Title: "Ancient Grecian Ruins", Image: Image{Src: "ruins.jpg", Alt: "Historic ruins against a sunset"}, Lat: 37.9715, Lon: 23.7257},
		{ID: "p6", Title: "Amazon Rainforest Canopy", Image: Image{Src: "rainforest.jpg", Alt: "Lush green canopy of a rainforest"}, Lat: -3.4653, Lon: -62.2159},
	}
}

// DefaultUsers returns the users the backend starts with.
func DefaultUsers() []User {
	return []User{
		{ID: 1, Name: "Leanne Graham", Username: "Bret", Email: "sincere@april.biz"},
		{ID: 2, Name: "Ervin Howell", Username: "Antonette", Email: "shanna@melissa.tv"},
		{ID: 3, Name: "Clementine Bauch", Username: "Samantha", Email: "nathan@yesenia.net"},
		{ID: 4, Name: "Patricia Lebsack", Username: "Karianne", Email: "julianne.oconner@kory.org"},
		{ID: 5, Name: "Chelsey Dietrich", Username: "Kamren", Email: "lucio_hettinger@annie.ca"},
	}
}
