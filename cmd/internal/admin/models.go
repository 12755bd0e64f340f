package admin

type forceLogoutRequest struct {
	UID string `json:"uid"`
}

type announceRequest struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

type beaconRequest struct {
	UID string `json:"uid"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type announceResponse struct {
	Success   bool   `json:"success"`
	Delivered int    `json:"delivered"`
	ID        string `json:"id"`
}
