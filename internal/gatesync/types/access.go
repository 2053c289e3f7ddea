package types

// AccessMessage is the online access path: a gate without local decision
// capability uploads either a captured image (base64) or an already
// recognized plate number.
type AccessMessage struct {
	Image       string `json:"image,omitempty"`
	PlateNumber string `json:"plate_number,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// AccessResponse is published on server/response/<gate> after the center
// decides an online access request.
type AccessResponse struct {
	PlateNumber   string  `json:"plate_number"`
	AccessGranted bool    `json:"access_granted"`
	Confidence    float64 `json:"confidence"`
	Timestamp     string  `json:"timestamp"`
	Accessing     bool    `json:"accessing"`
}

// DecisionRequest is the gate-local HTTP boundary the camera pipeline
// calls after plate recognition.
type DecisionRequest struct {
	PlateNumber string  `json:"plate_number"`
	Confidence  float64 `json:"confidence"`
}

type DecisionResponse struct {
	PlateNumber   string  `json:"plate_number"`
	AccessGranted bool    `json:"access_granted"`
	Confidence    float64 `json:"confidence"`
	Accessing     bool    `json:"accessing"`
	ServerTime    string  `json:"server_time"`
}
