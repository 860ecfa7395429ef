package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

const carsContract = `openapi: 3.0.3
info:
  title: Cars API
  version: 1.0.0
paths:
  /cars:
    get:
      operationId: list-cars
      responses:
        "200":
          description: OK
    post:
      operationId: create-car
      responses:
        "201":
          description: Created
  /cars/{carId}:
    get:
      operationId: get-car
      parameters:
        - name: carId
          in: path
          required: true
          schema:
            type: string
      responses:
        "200":
          description: OK
  /cars/featured:
    get:
      operationId: featured-cars
      responses:
        "200":
          description: OK
`

func loadCars(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cars.yaml")
	if err := os.WriteFile(path, []byte(carsContract), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load("cars-api", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestLoadBuildsOperations(t *testing.T) {
	c := loadCars(t)

	if c.Name() != "cars-api" {
		t.Fatalf("name = %q", c.Name())
	}
	ops := c.Operations()
	if len(ops) != 4 {
		t.Fatalf("got %d operations, want 4", len(ops))
	}
	seen := map[string]bool{}
	for _, op := range ops {
		seen[op.ID] = true
	}
	for _, id := range []string{"list-cars", "create-car", "get-car", "featured-cars"} {
		if !seen[id] {
			t.Errorf("missing operation %s", id)
		}
	}
}

func TestMatchLiteralPath(t *testing.T) {
	c := loadCars(t)

	op, params, ok := c.Match("GET", "/cars")
	if !ok {
		t.Fatal("no match for GET /cars")
	}
	if op.ID != "list-cars" {
		t.Fatalf("matched %s", op.ID)
	}
	if len(params) != 0 {
		t.Fatalf("unexpected params %v", params)
	}
}

func TestMatchTemplateCapturesParams(t *testing.T) {
	c := loadCars(t)

	op, params, ok := c.Match("GET", "/cars/999")
	if !ok {
		t.Fatal("no match for GET /cars/999")
	}
	if op.ID != "get-car" {
		t.Fatalf("matched %s", op.ID)
	}
	if params["carId"] != "999" {
		t.Fatalf("params = %v", params)
	}
}

func TestMatchPrefersLiteralOverTemplate(t *testing.T) {
	c := loadCars(t)

	op, _, ok := c.Match("GET", "/cars/featured")
	if !ok {
		t.Fatal("no match for GET /cars/featured")
	}
	if op.ID != "featured-cars" {
		t.Fatalf("matched %s, want featured-cars", op.ID)
	}
}

func TestMatchPathIgnoresMethod(t *testing.T) {
	c := loadCars(t)

	op, params, ok := c.MatchPath("/cars/7")
	if !ok {
		t.Fatal("no path match for /cars/7")
	}
	if op.ID != "get-car" {
		t.Fatalf("matched %s", op.ID)
	}
	if params["carId"] != "7" {
		t.Fatalf("params = %v", params)
	}

	if _, _, ok := c.MatchPath("/garages"); ok {
		t.Fatal("/garages should not match")
	}
}

func TestMatchMethodMismatch(t *testing.T) {
	c := loadCars(t)

	if _, _, ok := c.Match("DELETE", "/cars"); ok {
		t.Fatal("DELETE /cars should not match")
	}
	if _, _, ok := c.Match("GET", "/trucks"); ok {
		t.Fatal("GET /trucks should not match")
	}
}
