package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager fans engine events out to the operator consoles watching a
// tenant. Connections are indexed per tenant so a sync on one tenant
// never reaches another tenant's watchers.
type Manager struct {
	clients          map[string]*Client
	tenantIndex      map[string]map[string]bool
	clientsMutex     sync.RWMutex
	Register         chan *Client
	Unregister       chan *Client
	HandleMessage    chan *ClientMessage
	maxConnPerTenant int
	writeWait        time.Duration
	pongWait         time.Duration
	pingPeriod       time.Duration
	messageHandler   MessageHandler
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

func NewManager(maxConnPerTenant int, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:          make(map[string]*Client),
		tenantIndex:      make(map[string]map[string]bool),
		Register:         make(chan *Client),
		Unregister:       make(chan *Client),
		HandleMessage:    make(chan *ClientMessage),
		maxConnPerTenant: maxConnPerTenant,
		writeWait:        writeWait,
		pongWait:         pongWait,
		pingPeriod:       pingPeriod,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.tenantIndex[client.TenantID] == nil {
		m.tenantIndex[client.TenantID] = make(map[string]bool)
	}

	if len(m.tenantIndex[client.TenantID]) >= m.maxConnPerTenant {
		log.Printf("max connections reached for tenant %s", client.TenantID)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.tenantIndex[client.TenantID][client.ID] = true

	log.Printf("client registered: %s (tenant: %s, subject: %s)", client.ID, client.TenantID, client.Subject)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.tenantIndex[client.TenantID], client.ID)

		if len(m.tenantIndex[client.TenantID]) == 0 {
			delete(m.tenantIndex, client.TenantID)
		}

		close(client.Send)
		log.Printf("client unregistered: %s", client.ID)
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		log.Printf("error unmarshaling message: %v", err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			log.Printf("error handling message: %v", err)
		}
	}
}

func (m *Manager) BroadcastToTenant(tenantID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	clientIDs, exists := m.tenantIndex[tenantID]
	if !exists {
		return nil
	}

	for clientID := range clientIDs {
		client := m.clients[clientID]
		select {
		case client.Send <- messageBytes:
		default:
			log.Printf("client %s send buffer full, closing connection", clientID)
			m.Unregister <- client
		}
	}

	return nil
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.Send <- messageBytes:
	default:
		log.Printf("client %s send buffer full", clientID)
	}

	return nil
}

func (m *Manager) GetTenantConnections(tenantID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.tenantIndex[tenantID]; exists {
		return len(clients)
	}
	return 0
}
