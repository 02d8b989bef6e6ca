// Package seed builds the sample e-commerce dataset used for demos and
// end-to-end tests and writes it to SQLite or to Parquet objects.
package seed

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

const dateLayout = "2006-01-02"

type Customer struct {
	CustomerID int64  `parquet:"customer_id"`
	Name       string `parquet:"name"`
	Email      string `parquet:"email"`
	Region     string `parquet:"region"`
	SignupDate string `parquet:"signup_date"`
}

type Product struct {
	ProductID     int64   `parquet:"product_id"`
	Name          string  `parquet:"name"`
	Category      string  `parquet:"category"`
	Price         float64 `parquet:"price"`
	StockQuantity int64   `parquet:"stock_quantity"`
}

type Order struct {
	OrderID     int64   `parquet:"order_id"`
	CustomerID  int64   `parquet:"customer_id"`
	OrderDate   string  `parquet:"order_date"`
	TotalAmount float64 `parquet:"total_amount"`
	Status      string  `parquet:"status"`
}

type Sale struct {
	SaleID     int64   `parquet:"sale_id"`
	OrderID    int64   `parquet:"order_id"`
	ProductID  int64   `parquet:"product_id"`
	Quantity   int64   `parquet:"quantity"`
	UnitPrice  float64 `parquet:"unit_price"`
	TotalPrice float64 `parquet:"total_price"`
	SaleDate   string  `parquet:"sale_date"`
}

type Dataset struct {
	Customers []Customer
	Products  []Product
	Orders    []Order
	Sales     []Sale
}

// Tables lists the dataset's table names in creation order.
func Tables() []string {
	return []string{"customers", "products", "orders", "sales"}
}

var productCatalog = []Product{
	{1, "Laptop Pro", "Electronics", 1299.99, 50},
	{2, "Wireless Mouse", "Electronics", 29.99, 200},
	{3, "Running Shoes", "Sports", 89.99, 100},
	{4, "Coffee Maker", "Home & Garden", 79.99, 75},
	{5, "T-Shirt", "Clothing", 19.99, 300},
	{6, "Smartphone", "Electronics", 699.99, 80},
	{7, "Yoga Mat", "Sports", 34.99, 150},
	{8, "Novel Book", "Books", 14.99, 120},
	{9, "Jeans", "Clothing", 59.99, 200},
	{10, "Desk Lamp", "Home & Garden", 39.99, 90},
	{11, "Tablet", "Electronics", 499.99, 60},
	{12, "Backpack", "Sports", 49.99, 180},
	{13, "Cookbook", "Books", 24.99, 100},
	{14, "Sweater", "Clothing", 44.99, 150},
	{15, "Plant Pot", "Home & Garden", 12.99, 250},
}

var (
	regions  = []string{"North", "South", "East", "West"}
	statuses = []string{"Completed", "Completed", "Completed", "Pending", "Shipped"}
)

type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Generate returns customers numbered 1..customers, the fixed product
// catalog, and zero to five orders per customer with one to four sales each.
// Order totals are the sum of their sales.
func (g *Generator) Generate(customers int) Dataset {
	today := g.now().Truncate(24 * time.Hour)
	dataset := Dataset{
		Customers: make([]Customer, 0, customers),
		Products:  append([]Product(nil), productCatalog...),
	}

	for i := 1; i <= customers; i++ {
		dataset.Customers = append(dataset.Customers, Customer{
			CustomerID: int64(i),
			Name:       fmt.Sprintf("Customer %d", i),
			Email:      fmt.Sprintf("customer%d@example.com", i),
			Region:     pickOne(g.rnd, regions),
			SignupDate: daysBefore(today, 30+g.rnd.Intn(701)),
		})
	}

	var orderID, saleID int64
	for _, customer := range dataset.Customers {
		for n := g.rnd.Intn(6); n > 0; n-- {
			orderID++
			orderDate := daysBefore(today, 1+g.rnd.Intn(365))
			status := pickOne(g.rnd, statuses)

			var total float64
			for items := 1 + g.rnd.Intn(4); items > 0; items-- {
				saleID++
				product := productCatalog[g.rnd.Intn(len(productCatalog))]
				quantity := int64(1 + g.rnd.Intn(3))
				lineTotal := round2(product.Price * float64(quantity))
				total += lineTotal
				dataset.Sales = append(dataset.Sales, Sale{
					SaleID:     saleID,
					OrderID:    orderID,
					ProductID:  product.ProductID,
					Quantity:   quantity,
					UnitPrice:  product.Price,
					TotalPrice: lineTotal,
					SaleDate:   orderDate,
				})
			}

			dataset.Orders = append(dataset.Orders, Order{
				OrderID:     orderID,
				CustomerID:  customer.CustomerID,
				OrderDate:   orderDate,
				TotalAmount: round2(total),
				Status:      status,
			})
		}
	}
	return dataset
}

func daysBefore(day time.Time, days int) string {
	return day.AddDate(0, 0, -days).Format(dateLayout)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
