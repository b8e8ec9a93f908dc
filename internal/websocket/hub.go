package websocket

import (
	"encoding/json"
	"log"

	"github.com/gorilla/websocket"

	"schoolfund/internal/models"
	"schoolfund/internal/payfast"
)

type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	StaffID int
}

// DonationAlert is pushed to every connected dashboard when a donation
// transitions to completed. Only reconciled, signature-verified transitions
// feed this channel.
type DonationAlert struct {
	Reference string `json:"reference"`
	DonorName string `json:"donor_name"`
	Amount    string `json:"amount"`
	Message   string `json:"message,omitempty"`
}

func AlertFor(d *models.Donation) DonationAlert {
	return DonationAlert{
		Reference: d.Reference,
		DonorName: d.DonorName,
		Amount:    payfast.FormatAmount(d.AmountCents),
		Message:   d.Message,
	}
}

type Hub struct {
	Clients        map[*Client]bool
	Register       chan *Client
	Unregister     chan *Client
	BroadcastAlert chan DonationAlert
}

func NewHub() *Hub {
	return &Hub{
		Clients:        make(map[*Client]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		BroadcastAlert: make(chan DonationAlert),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.Clients[client] = true
			log.Printf("Dashboard client connected for staff %d", client.StaffID)

		case client := <-h.Unregister:
			if _, ok := h.Clients[client]; ok {
				delete(h.Clients, client)
				close(client.Send)
				log.Printf("Dashboard client disconnected for staff %d", client.StaffID)
			}

		case alert := <-h.BroadcastAlert:
			jsonData, err := json.Marshal(alert)
			if err != nil {
				log.Println("Failed to marshal donation alert:", err)
				continue
			}
			for client := range h.Clients {
				select {
				case client.Send <- jsonData:
				default:
					close(client.Send)
					delete(h.Clients, client)
				}
			}
		}
	}
}
