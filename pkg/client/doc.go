// Package client provides a Go SDK for MasterAPI: typed helpers for
// delegating tasks, polling status, listing the queue, and driving the
// admin surface, plus a WebSocket client for the relayed MessageBus
// event stream.
//
// # Basic Usage
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := c.Delegate(ctx, task.CreateTaskRequest{
//	    Type:   "code",
//	    Prompt: "write a hello world in Go",
//	})
//
// # WebSocket Events
//
//	if err := c.ConnectWebSocket(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.CloseWebSocket()
//
//	for event := range c.Events() {
//	    fmt.Printf("%s: %s\n", event.Channel, event.Type)
//	}
//
// # Configuration
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithAPIKey("your-admin-token"),
//	    client.WithTimeout(30*time.Second),
//	)
package client
