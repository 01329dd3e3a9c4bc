/*
Package user contains the participant projection broadcast in the user list and the
role book that decides who may enter locked rooms.
*/
package user

// User is one entry of the user list pushed to every connection.
type User struct {
	// Username is the display name (canonical casing when the name is registered).
	Username string `json:"username"`

	// Gender is the free-form gender marker chosen at login.
	Gender string `json:"gender"`

	// Away is true while the user is inside the away-grace window.
	Away bool `json:"away"`

	// Role is the user's role name, USER for everyone without an explicit assignment.
	Role Role `json:"role"`

	// Room is the id of the room the user currently occupies.
	Room string `json:"room"`
}
