// Package schematest provides the shop model shared by translator tests.
package schematest

import (
	"github.com/google/uuid"

	"github.com/atlekbai/entityql/internal/schema"
)

// Stable ids for predictable output.
var (
	CustomerID  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	OrderID     = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	OrderLineID = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	AddressID   = uuid.MustParse("00000000-0000-0000-0000-000000000004")
	CountryID   = uuid.MustParse("00000000-0000-0000-0000-000000000005")
	TagID       = uuid.MustParse("00000000-0000-0000-0000-000000000006")
	OrderTagID  = uuid.MustParse("00000000-0000-0000-0000-000000000007")
	EmployeeID  = uuid.MustParse("00000000-0000-0000-0000-000000000008")
)

func scalar(name string, typ schema.FieldType, nullable bool) schema.ColumnDef {
	return schema.ColumnDef{Name: name, Type: typ, Nullable: nullable}
}

func ref(name, fk string, target uuid.UUID, nullable bool) schema.ColumnDef {
	return schema.ColumnDef{
		Name:       name,
		Relation:   schema.RelationReference,
		TargetID:   new(target),
		ForeignKey: fk,
		Nullable:   nullable,
	}
}

// Shop returns a fresh snapshot of the shop model:
//
//	Customer 1-* Order 1-* OrderLine
//	Order *-1 Address *-1 Country
//	Order *-* Tag (through OrderTag)
//	Employee *-1 Employee (Manager)
func Shop() *schema.Cache {
	customer := &schema.EntityDef{
		ID: CustomerID, Name: "Customer", Schema: "shop", Table: "customers", PrimaryKey: "Id",
		Columns: []schema.ColumnDef{
			scalar("Id", schema.FieldUUID, false),
			scalar("Name", schema.FieldText, false),
			scalar("Email", schema.FieldText, true),
			scalar("Region", schema.FieldText, true),
			{Name: "Orders", Relation: schema.RelationCollection, TargetID: new(OrderID), ForeignKey: "CustomerId"},
		},
	}

	order := &schema.EntityDef{
		ID: OrderID, Name: "Order", Schema: "shop", Table: "orders", PrimaryKey: "Id",
		Columns: []schema.ColumnDef{
			scalar("Id", schema.FieldUUID, false),
			scalar("Number", schema.FieldText, false),
			scalar("Total", schema.FieldNumeric, false),
			scalar("Note", schema.FieldText, true),
			scalar("Discount", schema.FieldInteger, true),
			scalar("CustomerId", schema.FieldUUID, false),
			scalar("ShippingAddressId", schema.FieldUUID, true),
			{Name: "Metadata", Type: schema.FieldJSON, Nullable: true, InlineJSON: true},
			ref("Customer", "CustomerId", CustomerID, false),
			ref("ShippingAddress", "ShippingAddressId", AddressID, true),
			{Name: "Lines", Relation: schema.RelationCollection, TargetID: new(OrderLineID), ForeignKey: "OrderId"},
			{
				Name: "Tags", Relation: schema.RelationCollection, TargetID: new(TagID),
				BridgeID: new(OrderTagID), ForeignKey: "OrderId", BridgeKey: "TagId",
			},
		},
	}

	line := &schema.EntityDef{
		ID: OrderLineID, Name: "OrderLine", Schema: "shop", Table: "order_lines", PrimaryKey: "Id",
		Columns: []schema.ColumnDef{
			scalar("Id", schema.FieldUUID, false),
			scalar("OrderId", schema.FieldUUID, false),
			scalar("Product", schema.FieldText, false),
			scalar("Quantity", schema.FieldInteger, false),
			scalar("Price", schema.FieldNumeric, false),
			ref("Order", "OrderId", OrderID, false),
		},
	}

	address := &schema.EntityDef{
		ID: AddressID, Name: "Address", Schema: "shop", Table: "addresses", PrimaryKey: "Id",
		Columns: []schema.ColumnDef{
			scalar("Id", schema.FieldUUID, false),
			scalar("City", schema.FieldText, false),
			scalar("CountryId", schema.FieldUUID, false),
			ref("Country", "CountryId", CountryID, false),
		},
	}

	country := &schema.EntityDef{
		ID: CountryID, Name: "Country", Schema: "shop", Table: "countries", PrimaryKey: "Id",
		Columns: []schema.ColumnDef{
			scalar("Id", schema.FieldUUID, false),
			scalar("Code", schema.FieldText, false),
			scalar("Name", schema.FieldText, false),
		},
	}

	tag := &schema.EntityDef{
		ID: TagID, Name: "Tag", Schema: "shop", Table: "tags", PrimaryKey: "Id",
		Columns: []schema.ColumnDef{
			scalar("Id", schema.FieldUUID, false),
			scalar("Name", schema.FieldText, false),
		},
	}

	orderTag := &schema.EntityDef{
		ID: OrderTagID, Name: "OrderTag", Schema: "shop", Table: "order_tags", PrimaryKey: "OrderId", IsBridge: true,
		Columns: []schema.ColumnDef{
			scalar("OrderId", schema.FieldUUID, false),
			scalar("TagId", schema.FieldUUID, false),
			ref("Order", "OrderId", OrderID, false),
			ref("Tag", "TagId", TagID, false),
		},
	}

	employee := &schema.EntityDef{
		ID: EmployeeID, Name: "Employee", Schema: "hr", Table: "employees", PrimaryKey: "Id",
		Columns: []schema.ColumnDef{
			scalar("Id", schema.FieldInteger, false),
			scalar("Name", schema.FieldText, false),
			scalar("ManagerId", schema.FieldInteger, true),
			ref("Manager", "ManagerId", EmployeeID, true),
		},
	}

	return schema.NewCacheFromEntities(customer, order, line, address, country, tag, orderTag, employee)
}
