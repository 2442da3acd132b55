package request

type ConnectDTO struct {
	EmitterPeer  string `json:"emitterPeer" validate:"required"`
	EmitterPort  string `json:"emitterPort" validate:"required"`
	ReceiverPeer string `json:"receiverPeer" validate:"required"`
	ReceiverPort string `json:"receiverPort" validate:"required"`
}

// EditValueDTO carries the raw text typed by the user. It is checked
// against the port's type hint, not here.
type EditValueDTO struct {
	Value *string `json:"value" validate:"required"`
}
