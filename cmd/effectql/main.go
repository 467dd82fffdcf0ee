// Command effectql runs classified GraphQL operations and serves them as
// MCP tools.
package main

import "github.com/jamesprial/effectql/internal/cli"

func main() {
	cli.Execute()
}
